package core

import (
	"archive/tar"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpack(t *testing.T) {
	stream := buildTar(t,
		tarDir("docs/"),
		tarFile("docs/readme.md", "# hello"),
		tarFile("top.txt", "top"),
		tarFile("deep/er/than/parents.txt", "implicit parents"),
	)

	out := filepath.Join(t.TempDir(), "new", "out")
	stats, err := Unpack(bytes.NewReader(stream), out)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"docs/":                    "",
		"docs/readme.md":           "# hello",
		"top.txt":                  "top",
		"deep/":                    "",
		"deep/er/":                 "",
		"deep/er/than/":            "",
		"deep/er/than/parents.txt": "implicit parents",
	}, readTree(t, out))
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, uint64(len(stream)), stats.TarBytes)
}

func TestUnpackMetadata(t *testing.T) {
	mtime := time.Date(2020, 2, 29, 8, 0, 0, 0, time.UTC)
	fileHdr := tarFile("sub/secret.txt", "shh")
	fileHdr.hdr.Mode = 0o600
	fileHdr.hdr.ModTime = mtime
	dirHdr := tarDir("sub/")
	dirHdr.hdr.Mode = 0o750
	dirHdr.hdr.ModTime = mtime

	out := t.TempDir()
	_, err := Unpack(bytes.NewReader(buildTar(t, dirHdr, fileHdr)), out)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(out, "sub", "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))

	// Directory metadata is applied after its contents are written
	info, err = os.Stat(filepath.Join(out, "sub"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestUnpackReadOnlyDirectory(t *testing.T) {
	ro := tarDir("ro/")
	ro.hdr.Mode = 0o555

	out := t.TempDir()
	_, err := Unpack(bytes.NewReader(buildTar(t, ro, tarFile("ro/inside.txt", "in"))), out)
	require.NoError(t, err)
	t.Cleanup(func() { os.Chmod(filepath.Join(out, "ro"), 0o755) })

	data, err := os.ReadFile(filepath.Join(out, "ro", "inside.txt"))
	require.NoError(t, err)
	assert.Equal(t, "in", string(data))
}

func TestUnpackLinks(t *testing.T) {
	stream := buildTar(t,
		tarFile("a.txt", "shared"),
		tarSymlink("sym.txt", "a.txt"),
		tarEntry{hdr: tar.Header{Typeflag: tar.TypeLink, Name: "hard.txt", Linkname: "a.txt"}},
	)

	out := t.TempDir()
	_, err := Unpack(bytes.NewReader(stream), out)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(out, "sym.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)

	a, err := os.Stat(filepath.Join(out, "a.txt"))
	require.NoError(t, err)
	hard, err := os.Stat(filepath.Join(out, "hard.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, hard))
}

func TestUnpackOverwrites(t *testing.T) {
	out := t.TempDir()
	writeTree(t, out, map[string]string{"same.txt": "old"})

	_, err := Unpack(bytes.NewReader(buildTar(t, tarFile("same.txt", "new"))), out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"same.txt": "new"}, readTree(t, out))
}

func TestUnpackReplacesSymlink(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	out := filepath.Join(root, "out")
	require.NoError(t, os.Mkdir(out, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(out, "victim.txt")))

	_, err := Unpack(bytes.NewReader(buildTar(t, tarFile("victim.txt", "replaced"))), out)
	require.NoError(t, err)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	info, err := os.Lstat(filepath.Join(out, "victim.txt"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestUnpackRejectsUnsafeEntries(t *testing.T) {
	cases := []struct {
		name    string
		entries []tarEntry
	}{
		{"parent traversal", []tarEntry{tarFile("../evil.txt", "x")}},
		{"nested traversal", []tarEntry{tarFile("a/../../evil.txt", "x")}},
		{"absolute name", []tarEntry{tarFile("/tmp/evil.txt", "x")}},
		{"absolute symlink", []tarEntry{tarSymlink("link", "/etc/passwd")}},
		{"escaping symlink", []tarEntry{tarSymlink("sub/link", "../../outside")}},
		{"write through symlink", []tarEntry{tarSymlink("here", "."), tarFile("here/x.txt", "x")}},
		{"directory through symlink", []tarEntry{tarSymlink("here", "."), tarDir("here/d/")}},
		{"escaping hard link", []tarEntry{{hdr: tar.Header{Typeflag: tar.TypeLink, Name: "h", Linkname: "../x"}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			out := filepath.Join(root, "out")

			_, err := Unpack(bytes.NewReader(buildTar(t, tc.entries...)), out)
			require.ErrorIs(t, err, ErrUnsafePath)

			var opErr *OpError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, opExtract, opErr.Op)
			assert.Equal(t, StageUnpack, opErr.Stage)

			// Nothing may land next to the output directory
			siblings, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, siblings, 1)
			assert.Equal(t, "out", siblings[0].Name())
		})
	}
}

func TestUnpackRejectsUnsupportedEntry(t *testing.T) {
	fifo := tarEntry{hdr: tar.Header{Typeflag: tar.TypeFifo, Name: "pipe"}}
	_, err := Unpack(bytes.NewReader(buildTar(t, fifo)), t.TempDir())
	assert.ErrorIs(t, err, ErrUnsupportedEntry)
}

func TestUnpackIgnoresGlobalHeader(t *testing.T) {
	global := tarEntry{hdr: tar.Header{
		Typeflag:   tar.TypeXGlobalHeader,
		PAXRecords: map[string]string{"comment": "made by a test"},
		Format:     tar.FormatPAX,
	}}
	out := t.TempDir()
	stats, err := Unpack(bytes.NewReader(buildTar(t, global, tarFile("a.txt", "a"))), out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, map[string]string{"a.txt": "a"}, readTree(t, out))
}

func TestUnpackCorrupt(t *testing.T) {
	stream := buildTar(t, tarFile("a.txt", "some file content"), tarFile("b.txt", "more"))

	t.Run("missing end marker", func(t *testing.T) {
		_, err := Unpack(bytes.NewReader(stream[:len(stream)-endMarkerSize]), t.TempDir())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("half end marker", func(t *testing.T) {
		_, err := Unpack(bytes.NewReader(stream[:len(stream)-blockSize]), t.TempDir())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated entry", func(t *testing.T) {
		_, err := Unpack(bytes.NewReader(stream[:blockSize+5]), t.TempDir())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("bad header checksum", func(t *testing.T) {
		damaged := bytes.Clone(stream)
		damaged[0] ^= 0xff
		_, err := Unpack(bytes.NewReader(damaged), t.TempDir())
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := Unpack(bytes.NewReader(nil), t.TempDir())
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestUnpackZeroFilledEntryWithoutEndMarker(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "zeros.bin", Mode: 0o644, Size: 2048}))
	_, err := tw.Write(make([]byte, 2048))
	require.NoError(t, err)
	require.NoError(t, tw.Flush())

	// The entry's own zero bytes must not pass for the end marker
	_, err = Unpack(bytes.NewReader(buf.Bytes()), t.TempDir())
	assert.ErrorIs(t, err, ErrCorrupt)

	// With the end marker in place the same entry extracts
	require.NoError(t, tw.Close())
	out := t.TempDir()
	_, err = Unpack(bytes.NewReader(buf.Bytes()), out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"zeros.bin": string(make([]byte, 2048))}, readTree(t, out))
}

func TestRecordAlign(t *testing.T) {
	assert.Equal(t, uint64(0), recordAlign(0))
	assert.Equal(t, uint64(512), recordAlign(1))
	assert.Equal(t, uint64(512), recordAlign(512))
	assert.Equal(t, uint64(1024), recordAlign(513))
}

func TestUnpackDirectoryReplacesFile(t *testing.T) {
	out := t.TempDir()
	writeTree(t, out, map[string]string{"thing": "was a file"})

	_, err := Unpack(bytes.NewReader(buildTar(t, tarDir("thing/"), tarFile("thing/inner.txt", "now a dir"))), out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"thing/": "", "thing/inner.txt": "now a dir"}, readTree(t, out))
}
