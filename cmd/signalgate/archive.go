package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// manifestName is the first entry of every archive: one "<blake3-hex>  <name>"
// line per file that follows.
const manifestName = "MANIFEST.b3"

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
	ageMagic  = []byte("age-encryption.org/")
)

// ErrPassphraseRequired is returned when an encrypted archive is opened
// without a passphrase.
var ErrPassphraseRequired = errors.New("archive is encrypted: passphrase required")

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeArchive writes files as tar, zstd compressed, and age encrypted with
// passphrase when it is non-empty.
func writeArchive(outputPath string, files []string, passphrase string) error {
	var manifest bytes.Buffer
	for _, f := range files {
		sum, err := hashFile(f)
		if err != nil {
			return fmt.Errorf("hash %s: %w", f, err)
		}
		fmt.Fprintf(&manifest, "%s  %s\n", sum, filepath.Base(f))
	}

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer outFile.Close()

	var w io.WriteCloser = nopWriteCloser{outFile}
	if passphrase != "" {
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return fmt.Errorf("scrypt recipient: %w", err)
		}
		if w, err = age.Encrypt(outFile, recipient); err != nil {
			return fmt.Errorf("creating age encryptor: %w", err)
		}
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	if err := tw.WriteHeader(&tar.Header{
		Name:     manifestName,
		Mode:     0o600,
		Size:     int64(manifest.Len()),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(manifest.Bytes()); err != nil {
		return err
	}
	for _, f := range files {
		if err := addFileToTar(tw, f); err != nil {
			return fmt.Errorf("add %s: %w", f, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return outFile.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// isEncryptedArchive reports whether the archive at path starts with an age
// header.
func isEncryptedArchive(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(ageMagic))
	n, _ := io.ReadFull(f, head)
	return bytes.Equal(head[:n], ageMagic), nil
}

// openArchive peels the age and compression layers off r. Both zstd and
// gzip archives are accepted.
func openArchive(r io.Reader, passphrase string) (*tar.Reader, func(), error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(ageMagic)); bytes.Equal(head, ageMagic) {
		if passphrase == "" {
			return nil, nil, ErrPassphraseRequired
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, nil, err
		}
		dr, err := age.Decrypt(br, identity)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypting: %w", err)
		}
		br = bufio.NewReader(dr)
	}

	head, _ := br.Peek(len(zstdMagic))
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(zr), zr.Close, nil
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("not a valid gzip file: %w", err)
		}
		return tar.NewReader(gr), func() { gr.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized archive format")
	}
}

func parseManifest(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		sum, name, ok := strings.Cut(sc.Text(), "  ")
		if !ok {
			return nil, fmt.Errorf("malformed manifest line %q", sc.Text())
		}
		sums[name] = sum
	}
	return sums, sc.Err()
}

// restoreTarget maps an archived file name to where it is restored.
func restoreTarget(baseName, dbPath, cfgPath string) string {
	switch {
	case baseName == filepath.Base(cfgPath), isConfigName(baseName):
		return cfgPath
	case strings.HasSuffix(baseName, ".db"):
		return dbPath
	case strings.HasSuffix(baseName, ".db-wal"):
		return dbPath + "-wal"
	case strings.HasSuffix(baseName, ".db-shm"):
		return dbPath + "-shm"
	default:
		return filepath.Join(filepath.Dir(cfgPath), baseName)
	}
}

func isConfigName(name string) bool {
	switch name {
	case "config.json", "config.yaml", "config.yml":
		return true
	}
	return false
}

// extractArchive restores the archive's files next to dbPath and cfgPath.
// Files are staged and checked against the manifest before any existing
// file is replaced.
func extractArchive(archivePath, dbPath, cfgPath, passphrase string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	tr, closeFn, err := openArchive(file, passphrase)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	type staged struct{ tmp, target string }
	var (
		pending  []staged
		manifest map[string]string
	)
	cleanup := func() {
		for _, s := range pending {
			os.Remove(s.tmp)
		}
	}

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		baseName := filepath.Base(header.Name)
		if baseName == manifestName {
			if manifest, err = parseManifest(tr); err != nil {
				cleanup()
				return nil, err
			}
			continue
		}

		target := restoreTarget(baseName, dbPath, cfgPath)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			cleanup()
			return nil, err
		}
		tmp := target + ".restore"
		pending = append(pending, staged{tmp: tmp, target: target})

		sum, err := copyHashed(tmp, tr)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		if manifest != nil {
			want, ok := manifest[baseName]
			if !ok {
				cleanup()
				return nil, fmt.Errorf("%s is not listed in the manifest", baseName)
			}
			if want != sum {
				cleanup()
				return nil, fmt.Errorf("%s: checksum mismatch", baseName)
			}
		}
	}

	restored := make([]string, 0, len(pending))
	for _, s := range pending {
		if err := os.Rename(s.tmp, s.target); err != nil {
			cleanup()
			return restored, fmt.Errorf("replace %s: %w", s.target, err)
		}
		restored = append(restored, s.target)
	}
	return restored, nil
}

func copyHashed(path string, r io.Reader) (string, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, h), r); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
