package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad_DirectorySkipsAndReports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "second document")
	writeFile(t, filepath.Join(dir, "a.md"), "# first\n\ndocument")
	writeFile(t, filepath.Join(dir, "nested", "c.txt"), "nested document")
	writeFile(t, filepath.Join(dir, "empty.txt"), "   \n\t ")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")
	writeFile(t, filepath.Join(dir, "image.png"), "ignored")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.txt"), "skipped")

	res := Load(context.Background(), []string{dir})
	require.NoError(t, res.Err)

	ids := make([]string, 0, len(res.Documents))
	for _, d := range res.Documents {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a.md", "b.txt", "nested/c.txt"}, ids)

	require.Len(t, res.Failures, 2)
	var paths []string
	for _, f := range res.Failures {
		paths = append(paths, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{"broken.pdf", "empty.txt"}, paths)

	for _, f := range res.Failures {
		if filepath.Base(f.Path) == "empty.txt" {
			assert.ErrorIs(t, f, ErrEmptyDocument)
		}
	}
}

func TestLoad_ExplicitFileUsesBaseName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "deep", "nist_800-53_summary.txt")
	writeFile(t, p, "NIST 800-53 AC-2: Manage IAM users.")

	res := Load(context.Background(), []string{p})
	require.NoError(t, res.Err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "nist_800-53_summary.txt", res.Documents[0].ID)
	assert.Equal(t, "nist-800-53", res.Documents[0].Framework)
	assert.Equal(t, FormatText, res.Documents[0].Format)
}

func TestLoad_MissingPathAndDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	one := filepath.Join(dir, "x", "same.txt")
	two := filepath.Join(dir, "y", "same.txt")
	writeFile(t, one, "first copy")
	writeFile(t, two, "second copy")

	res := Load(context.Background(), []string{filepath.Join(dir, "missing"), one, two})
	require.NoError(t, res.Err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "first copy", res.Documents[0].Text)

	require.Len(t, res.Failures, 2)
	assert.True(t, errors.Is(res.Failures[0], os.ErrNotExist))
	assert.ErrorIs(t, res.Failures[1], ErrDuplicateID)
}

func TestLoad_CancelledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Load(ctx, []string{dir})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Documents)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"collapse blanks", "a  \t b", "a b"},
		{"collapse blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"trailing blanks before newline", "a   \nb", "a\nb"},
		{"leading blanks on line", "a\n    b", "a\nb"},
		{"control characters", "a\x00b\x07c", "abc"},
		{"trim", "  \n a \n ", "a"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSeedDefaults(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")
	keep := filepath.Join(dir, "cis_rhel_benchmark.txt")
	writeFile(t, keep, "custom content")

	written, err := SeedDefaults(dir)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "nist_800-53_summary.txt", filepath.Base(written[0]))

	body, err := os.ReadFile(keep)
	require.NoError(t, err)
	assert.Equal(t, "custom content", string(body))

	again, err := SeedDefaults(dir)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestInferFramework(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		text string
		want string
	}{
		{"nist_800-53_summary.txt", "", "nist-800-53"},
		{"cis_rhel_benchmark.txt", "", "cis"},
		{"fedramp/moderate.md", "", "fedramp"},
		{"notes.txt", "This maps FISMA requirements and later NIST 800-53.", "fisma"},
		{"notes.txt", "Apply the CIS controls.", "cis"},
		{"notes.txt", "General AWS guidance.", FrameworkGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferFramework(tt.id, tt.text), tt.id+" "+tt.text)
	}
}

func TestControlIDs(t *testing.T) {
	t.Parallel()

	got := ControlIDs("AC-2 and CM-2 apply; see AC-2 again and SI-4(5).")
	assert.Equal(t, []string{"AC-2", "CM-2", "SI-4(5)"}, got)
	assert.Nil(t, ControlIDs("nothing here"))
}
