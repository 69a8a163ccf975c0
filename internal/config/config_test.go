package config

import "testing"

func TestClientSecret_Configured(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_SECRET", "from-env")

	got, err := ClientSecret("from-file")
	if err != nil {
		t.Fatalf("ClientSecret: %v", err)
	}
	if got != "from-file" {
		t.Errorf("got %q, want configured value", got)
	}
}

func TestClientSecret_Env(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_SECRET", "from-env")

	got, err := ClientSecret("")
	if err != nil {
		t.Fatalf("ClientSecret: %v", err)
	}
	if got != "from-env" {
		t.Errorf("got %q, want env value", got)
	}
}
