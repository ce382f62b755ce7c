package buildgraph

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
)

// hashDir computes a content digest over every regular file under dir,
// walked in sorted path order so the result does not depend on directory
// iteration order. This is the "package sources by content hash" input
// named in spec §4.5 for PackageBuild cache tokens.
func hashDir(dir string) (digest.Digest, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return "", err
		}
		if _, err := io.WriteString(h, rel+"\x00"); err != nil {
			return "", err
		}
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
		if _, err := io.WriteString(h, "\x00"); err != nil {
			return "", err
		}
	}
	return digester.Digest(), nil
}
