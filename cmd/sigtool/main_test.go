package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigtool.dev/sigtool/sigfile"
)

type cli struct {
	t        *testing.T
	keystore string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &cli{t: t, keystore: filepath.Join(t.TempDir(), "ks")}
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	code := run(append([]string{"--keystore", c.keystore}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, out, errOut := c.run(args...)
	require.Equal(c.t, exitOK, code, "sigtool %s\nstderr: %s", strings.Join(args, " "), errOut)
	return out
}

func TestHelloWorldScenario(t *testing.T) {
	c := newCLI(t)
	sig := filepath.Join(t.TempDir(), "s.sig")

	out := c.mustRun("keygen", "--name", "k1", "--scheme", "ecdsa")
	assert.Contains(t, out, "Created ecdsa key: k1")

	c.mustRun("sign", "--key", "k1", "--message", "Hello, world!", "--output", sig)

	code, out, _ := c.run("verify", "--key", "k1", "--signature", sig, "--message", "Hello, world!")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "valid\n", out)

	code, out, errOut := c.run("verify", "--key", "k1", "--signature", sig, "--message", "Hello, world")
	assert.Equal(t, exitInvalidSignature, code)
	assert.Equal(t, "invalid\n", out)
	assert.Empty(t, errOut)
}

func TestSignaturesFromFilesAndHex(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	msgPath := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(msgPath, []byte("file contents\n"), 0o600))

	c.mustRun("keygen", "--name", "b", "--scheme", "bls")
	hexSig := strings.TrimSpace(c.mustRun("sign", "--key", "b", "--file", msgPath))
	env, err := sigfile.Decode([]byte(hexSig))
	require.NoError(t, err)
	assert.Equal(t, "b", env.KeyName)

	sigPath := filepath.Join(dir, "b.sig.hex")
	require.NoError(t, os.WriteFile(sigPath, []byte(hexSig+"\n"), 0o600))
	assert.Equal(t, "valid\n", c.mustRun("verify", "--key", "b", "--signature", sigPath, "--file", msgPath))
}

func TestEmptyMessage(t *testing.T) {
	c := newCLI(t)
	sig := filepath.Join(t.TempDir(), "e.sig")
	c.mustRun("keygen", "--name", "k")
	c.mustRun("sign", "--key", "k", "--message", "", "--output", sig)
	assert.Equal(t, "valid\n", c.mustRun("verify", "--key", "k", "--signature", sig, "--message", ""))
}

func TestListKeys(t *testing.T) {
	c := newCLI(t)
	assert.Empty(t, c.mustRun("list-keys"))

	c.mustRun("keygen", "--name", "B", "--scheme", "bls")
	c.mustRun("keygen", "--name", "A", "--scheme", "ecdsa")

	lines := strings.Split(strings.TrimSpace(c.mustRun("list-keys")), "\n")
	require.Len(t, lines, 2)
	a := strings.Split(lines[0], "\t")
	b := strings.Split(lines[1], "\t")
	require.Len(t, a, 4)
	assert.Equal(t, []string{"A", "ecdsa"}, a[:2])
	assert.Equal(t, []string{"B", "bls"}, b[:2])
	assert.True(t, strings.HasPrefix(a[2], "bafk"))
}

func TestSeededKeygen(t *testing.T) {
	seed := strings.Repeat("ab", 32)
	c1, c2 := newCLI(t), newCLI(t)
	out1 := c1.mustRun("keygen", "--name", "demo", "--scheme", "bls", "--seed-hex", seed)
	out2 := c2.mustRun("keygen", "--name", "demo", "--scheme", "bls", "--seed-hex", "0x"+seed)
	assert.Equal(t, out1, out2)

	code, _, _ := c1.run("keygen", "--name", "x", "--seed-hex", "abcd")
	assert.Equal(t, exitUsage, code)
}

func TestExitCodes(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	blsSig := filepath.Join(dir, "bls.sig")
	junk := filepath.Join(dir, "junk.sig")
	require.NoError(t, os.WriteFile(junk, []byte("not a signature"), 0o600))

	c.mustRun("keygen", "--name", "e")
	c.mustRun("keygen", "--name", "b", "--scheme", "bls")
	c.mustRun("sign", "--key", "b", "--message", "m", "--output", blsSig)

	for _, tc := range []struct {
		name string
		args []string
		want int
	}{
		{"duplicate", []string{"keygen", "--name", "e", "--scheme", "bls"}, exitDuplicateName},
		{"not found", []string{"sign", "--key", "nope", "--message", "m"}, exitNotFound},
		{"scheme mismatch", []string{"verify", "--key", "e", "--signature", blsSig, "--message", "m"}, exitSchemeMismatch},
		{"malformed", []string{"verify", "--key", "e", "--signature", junk, "--message", "m"}, exitMalformedSignature},
		{"bad scheme", []string{"keygen", "--name", "z", "--scheme", "rsa"}, exitUsage},
		{"bad name", []string{"keygen", "--name", "a/b"}, exitUsage},
		{"missing flag", []string{"sign", "--message", "m"}, exitUsage},
		{"no message", []string{"sign", "--key", "e"}, exitUsage},
		{"both messages", []string{"sign", "--key", "e", "--message", "m", "--file", junk}, exitUsage},
		{"unknown flag", []string{"list-keys", "--bogus"}, exitUsage},
		{"unknown command", []string{"frobnicate"}, exitUsage},
		{"no command", nil, exitUsage},
		{"missing sig file", []string{"verify", "--key", "e", "--signature", filepath.Join(dir, "none"), "--message", "m"}, exitUsage},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, _, errOut := c.run(tc.args...)
			assert.Equal(t, tc.want, code, "stderr: %s", errOut)
			assert.NotEmpty(t, errOut)
		})
	}

	code, out, _ := c.run("list-keys")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "e\tecdsa\t", "failed duplicate keygen replaced the first record")
}

func TestCorruptKeyFileExitCode(t *testing.T) {
	c := newCLI(t)
	c.mustRun("keygen", "--name", "good")
	require.NoError(t, os.WriteFile(filepath.Join(c.keystore, "bad.key"), []byte(`{"version":1}`), 0o600))

	code, _, _ := c.run("sign", "--key", "bad", "--message", "m")
	assert.Equal(t, exitInvalidKey, code)

	code, out, errOut := c.run("list-keys")
	assert.Equal(t, exitInvalidKey, code)
	assert.Contains(t, out, "good\t")
	assert.Contains(t, errOut, "bad")
}

func TestAggregateFlow(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	msg := "ship it"
	var paths []string
	for _, name := range []string{"alice", "bob"} {
		c.mustRun("keygen", "--name", name, "--scheme", "bls")
		p := filepath.Join(dir, name+".sig")
		c.mustRun("sign", "--key", name, "--message", msg, "--output", p)
		paths = append(paths, p)
	}
	agg := filepath.Join(dir, "agg.sig")
	c.mustRun("aggregate", "--signatures", strings.Join(paths, ","), "--output", agg)

	env, err := sigfile.ReadFile(agg)
	require.NoError(t, err)
	assert.True(t, env.Aggregate)
	assert.Equal(t, []string{"alice", "bob"}, env.Signers)

	assert.Equal(t, "valid\n", c.mustRun("verify-aggregate", "--signature", agg, "--message", msg))
	assert.Equal(t, "valid\n", c.mustRun("verify-aggregate", "--keys", "bob,alice", "--signature", agg, "--message", msg))

	code, out, _ := c.run("verify-aggregate", "--keys", "alice", "--signature", agg, "--message", msg)
	assert.Equal(t, exitInvalidSignature, code)
	assert.Equal(t, "invalid\n", out)

	code, _, _ = c.run("verify", "--key", "alice", "--signature", agg, "--message", msg)
	assert.Equal(t, exitUsage, code)

	c.mustRun("keygen", "--name", "carol")
	carol := filepath.Join(dir, "carol.sig")
	c.mustRun("sign", "--key", "carol", "--message", msg, "--output", carol)
	code, _, _ = c.run("aggregate", "--signatures", paths[0]+","+carol)
	assert.Equal(t, exitSchemeMismatch, code)
}

func TestLockTimeoutFlagValidation(t *testing.T) {
	c := newCLI(t)
	code, _, errOut := c.run("--lock-timeout", "-1s", "list-keys")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "lock_timeout")
}

func TestVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"version"}, &out, &errOut)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "sigtool dev\n", out.String())
}
