// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
)

type embeddedParams struct {
	Verbose bool `flag:"verbose,v" desc:"verbose logging"`
}

type testParams struct {
	embeddedParams
	JSONOutput
	Description string   `flag:"description,d" desc:"archive description"`
	Workers     int      `flag:"workers" default:"2" desc:"worker count"`
	Size        int64    `flag:"size" default:"4096"`
	Keywords    []string `flag:"keyword,k"`
	Ignored     string
}

func TestFlagsFromParams(t *testing.T) {
	var params testParams
	flagSet := FlagsFromParams("test", &params)
	if params.Workers != 0 {
		t.Fatalf("defaults applied before parse")
	}
	err := flagSet.Parse([]string{"-v", "--json", "-d", "nightly", "-k", "db", "--keyword", "prod", "--size", "8192", "rest"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !params.Verbose || !params.OutputJSON {
		t.Errorf("embedded flags not bound: %+v", params)
	}
	if params.Description != "nightly" || params.Workers != 2 || params.Size != 8192 {
		t.Errorf("values = %+v", params)
	}
	if strings.Join(params.Keywords, ",") != "db,prod" {
		t.Errorf("Keywords = %v, want [db prod]", params.Keywords)
	}
	if args := flagSet.Args(); len(args) != 1 || args[0] != "rest" {
		t.Errorf("Args() = %v, want [rest]", args)
	}
	if flagSet.Lookup("Ignored") != nil || flagSet.Lookup("ignored") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlagsRejectsBadInput(t *testing.T) {
	if err := BindFlags(testParams{}, FlagsFromParams("x", &struct{}{})); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
	bad := struct {
		Ratio float32 `flag:"ratio"`
	}{}
	if err := BindFlags(&bad, FlagsFromParams("x", &struct{}{})); err == nil {
		t.Error("BindFlags accepted an unsupported type")
	}
}

func TestOutputPlain(t *testing.T) {
	var buffer bytes.Buffer
	output := newOutput(&buffer, false)
	if err := output.Table([]string{"ID", "SIZE"}, [][]string{{"abc", "10"}, {"defgh", "2000"}}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") || !strings.HasPrefix(lines[2], "defgh") {
		t.Errorf("table output:\n%s", buffer.String())
	}

	buffer.Reset()
	var nothing []string
	if err := output.JSON(nothing); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("nil slice rendered as %q, want []", buffer.String())
	}
}
