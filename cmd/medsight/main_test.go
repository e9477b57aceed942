package main

import (
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	t.Setenv("MEDSIGHT_CONFIG", "")
	args, err := parseArgs([]string{
		"--image", "a.png", "--image=b.png", "--record", "note.txt",
		"--session=01ABC", "--plain", "What", "changed?",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !reflect.DeepEqual(args.Images, []string{"a.png", "b.png"}) {
		t.Errorf("Images = %v", args.Images)
	}
	if !reflect.DeepEqual(args.Records, []string{"note.txt"}) {
		t.Errorf("Records = %v", args.Records)
	}
	if args.Session != "01ABC" || !args.Plain {
		t.Errorf("Session = %q, Plain = %v", args.Session, args.Plain)
	}
	if !reflect.DeepEqual(args.Positional, []string{"What", "changed?"}) {
		t.Errorf("Positional = %v", args.Positional)
	}
	if args.Config != "medsight.yaml" {
		t.Errorf("Config = %q, want default", args.Config)
	}
}

func TestParseArgs_ConfigFromEnv(t *testing.T) {
	t.Setenv("MEDSIGHT_CONFIG", "/etc/medsight.yaml")
	args, err := parseArgs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if args.Config != "/etc/medsight.yaml" {
		t.Errorf("Config = %q", args.Config)
	}

	args, _ = parseArgs([]string{"--config", "local.yaml"})
	if args.Config != "local.yaml" {
		t.Errorf("flag should win over env, got %q", args.Config)
	}
}

func TestParseArgs_MissingValue(t *testing.T) {
	if _, err := parseArgs([]string{"--image"}); err == nil {
		t.Error("expected error for flag without value")
	}
}
