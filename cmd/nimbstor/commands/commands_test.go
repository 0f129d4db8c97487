// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/keyfile"
)

// execute runs the command tree with input on stdin and returns what
// was written to stdout.
func execute(t *testing.T, input []byte, args ...string) (string, error) {
	t.Helper()
	var output bytes.Buffer
	savedIn, savedOut := stdin, stdout
	stdin, stdout = bytes.NewReader(input), &output
	defer func() { stdin, stdout = savedIn, savedOut }()
	err := Root().Execute(args)
	return output.String(), err
}

func mustExecute(t *testing.T, input []byte, args ...string) string {
	t.Helper()
	output, err := execute(t, input, args...)
	if err != nil {
		t.Fatalf("nimbstor %s: %v", strings.Join(args, " "), err)
	}
	return output
}

// setupRepository points NIMBSTOR_CONFIG into a temporary directory
// and initializes a small-block filesystem repository there.
func setupRepository(t *testing.T, extra ...string) string {
	t.Helper()
	for _, name := range []string{
		"NIMBSTOR_REPOSITORY", "NIMBSTOR_BACKEND", "NIMBSTOR_WORKERS",
		"NIMBSTOR_COMPRESSION", "NIMBSTOR_PASSWORD_FILE",
	} {
		t.Setenv(name, "")
	}
	directory := t.TempDir()
	t.Setenv("NIMBSTOR_CONFIG", filepath.Join(directory, "config.yaml"))
	args := append([]string{"init", "-r", filepath.Join(directory, "repository"), "--block-size", "4096"}, extra...)
	output := mustExecute(t, nil, args...)
	if !strings.Contains(output, "initialized filesystem repository") {
		t.Fatalf("unexpected init output: %q", output)
	}
	return directory
}

func testData(seed int64, length int) []byte {
	data := make([]byte, length)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func TestRoundTrip(t *testing.T) {
	directory := setupRepository(t)
	data := testData(1, 50000)

	id := strings.TrimSpace(mustExecute(t, data, "create", "-d", "first backup", "-k", "alpha"))
	if len(id) != 43 {
		t.Fatalf("create printed %q, want an archive id", id)
	}

	if got := strings.TrimSpace(mustExecute(t, nil, "list", "--ids")); got != id {
		t.Errorf("list --ids = %q, want %q", got, id)
	}

	if got := mustExecute(t, nil, "extract", id); got != string(data) {
		t.Errorf("extract returned %d bytes, want the %d archived", len(got), len(data))
	}

	restored := filepath.Join(directory, "restored.bin")
	mustExecute(t, nil, "extract", "-o", restored, id)
	written, err := os.ReadFile(restored)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(written, data) {
		t.Error("extract -o wrote different content")
	}

	if got := strings.TrimSpace(mustExecute(t, nil, "search", "--ids", "alpha")); got != id {
		t.Errorf("search --ids alpha = %q, want %q", got, id)
	}
	if got := strings.TrimSpace(mustExecute(t, nil, "search", "--ids", "nothing-matches")); got != "" {
		t.Errorf("search for an absent keyword = %q, want nothing", got)
	}

	verified := mustExecute(t, nil, "verify", "--all")
	if !strings.HasPrefix(verified, "ok") || !strings.Contains(verified, id) {
		t.Errorf("verify --all = %q", verified)
	}
}

func TestShowAndExists(t *testing.T) {
	setupRepository(t)
	id := strings.TrimSpace(mustExecute(t, testData(2, 20000), "create", "-k", "beta"))

	var shown struct {
		ID       string   `json:"id"`
		Keywords []string `json:"keywords"`
		Size     int64    `json:"size"`
		BlockIDs []string `json:"block_ids"`
	}
	if err := json.Unmarshal([]byte(mustExecute(t, nil, "show", "--blocks", id)), &shown); err != nil {
		t.Fatalf("show output is not JSON: %v", err)
	}
	if shown.ID != id || shown.Size != 20000 || len(shown.Keywords) != 1 {
		t.Errorf("show = %+v", shown)
	}
	if len(shown.BlockIDs) == 0 {
		t.Fatal("show --blocks listed no blocks")
	}

	if _, err := execute(t, nil, "exists", id); err != nil {
		t.Errorf("exists %s: %v", id, err)
	}
	if _, err := execute(t, nil, "exists", shown.BlockIDs[0]); err != nil {
		t.Errorf("exists %s: %v", shown.BlockIDs[0], err)
	}

	output, err := execute(t, nil, "exists", strings.Repeat("A", 43))
	var exit *cli.ExitError
	if !errors.As(err, &exit) || exit.Code != 1 {
		t.Errorf("exists for an absent archive = %v, want exit code 1", err)
	}
	if !strings.Contains(output, "absent") {
		t.Errorf("exists output = %q, want it to report absence", output)
	}

	if _, err := execute(t, nil, "exists", "not-an-id"); err == nil || errors.As(err, &exit) {
		t.Errorf("exists with a malformed id = %v, want a usage error", err)
	}
}

func TestLineageJSON(t *testing.T) {
	setupRepository(t)
	parent := strings.TrimSpace(mustExecute(t, testData(3, 10000), "create", "-d", "base"))
	child := strings.TrimSpace(mustExecute(t, testData(4, 10000), "create", "-d", "increment", "--parent", parent))

	var chain []struct {
		ID     string `json:"id"`
		Parent string `json:"parent"`
	}
	if err := json.Unmarshal([]byte(mustExecute(t, nil, "lineage", "--json", child)), &chain); err != nil {
		t.Fatalf("lineage output is not JSON: %v", err)
	}
	if len(chain) != 2 || chain[0].ID != child || chain[1].ID != parent || chain[0].Parent != parent {
		t.Errorf("lineage = %+v, want child then parent", chain)
	}
}

func TestCreateJSONAndMetainfo(t *testing.T) {
	directory := setupRepository(t)
	metainfo := filepath.Join(directory, "metainfo.jsonc")
	if err := os.WriteFile(metainfo, []byte(`{
		// host that produced the archive
		"host": "db1",
		"tables": ["users", "orders",],
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var created createResult
	output := mustExecute(t, testData(5, 30000), "create", "--json", "--metainfo-file", metainfo)
	if err := json.Unmarshal([]byte(output), &created); err != nil {
		t.Fatalf("create --json output is not JSON: %v\n%s", err, output)
	}
	if created.ID == "" || created.Size != 30000 || created.Literals == 0 {
		t.Errorf("create --json = %+v", created)
	}

	if got := strings.TrimSpace(mustExecute(t, nil, "search", "--ids", "db1")); got != created.ID {
		t.Errorf("search by metainfo value = %q, want %q", got, created.ID)
	}
}

func TestVerifyArguments(t *testing.T) {
	setupRepository(t)
	if _, err := execute(t, nil, "verify"); err == nil {
		t.Error("verify without ids or --all succeeded")
	}
	output, err := execute(t, nil, "verify", strings.Repeat("B", 43))
	var exit *cli.ExitError
	if !errors.As(err, &exit) || exit.Code != 1 {
		t.Errorf("verify of an absent archive = %v, want exit code 1", err)
	}
	if !strings.HasPrefix(output, "FAILED") {
		t.Errorf("verify output = %q", output)
	}
}

func TestInitRefusesExistingConfig(t *testing.T) {
	directory := setupRepository(t)
	_, err := execute(t, nil, "init", "-r", filepath.Join(directory, "other"))
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second init = %v, want an already-exists error", err)
	}
	mustExecute(t, nil, "init", "--force", "-r", filepath.Join(directory, "other"), "--block-size", "4096")
}

func TestEncryptedRepositoryWithPasswordFile(t *testing.T) {
	directory := t.TempDir()
	passwordFile := filepath.Join(directory, "password")
	if err := os.WriteFile(passwordFile, []byte("correct horse\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	setupRepository(t, "--cipher", "xchacha20-poly1305", "--password-file", passwordFile)

	data := testData(6, 12000)
	id := strings.TrimSpace(mustExecute(t, data, "create"))
	if got := mustExecute(t, nil, "extract", id); got != string(data) {
		t.Error("encrypted round trip returned different content")
	}
}

func TestSealPassword(t *testing.T) {
	for _, name := range []string{"NIMBSTOR_REPOSITORY", "NIMBSTOR_BACKEND", "NIMBSTOR_PASSWORD_FILE"} {
		t.Setenv(name, "")
	}
	directory := t.TempDir()
	identityPath := filepath.Join(directory, "identity")
	sealedPath := filepath.Join(directory, "password.age")

	output := mustExecute(t, []byte("sealed secret\n"), "seal-password", "-i", identityPath, "-o", sealedPath)
	if !strings.Contains(output, "age1") {
		t.Errorf("seal-password output = %q, want the recipient listed", output)
	}
	password, err := keyfile.OpenFile(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if string(password) != "sealed secret" {
		t.Errorf("sealed password = %q, want %q", password, "sealed secret")
	}

	if _, err := execute(t, nil, "seal-password", "-i", identityPath, "-o", sealedPath); err == nil {
		t.Error("seal-password with empty stdin succeeded")
	}
}
