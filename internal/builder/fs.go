package builder

import "os"

func readDir(dir string) ([]dirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]dirEntry, len(entries))
	for i, e := range entries {
		out[i] = dirEntry{name: e.Name(), isDir: e.IsDir()}
	}
	return out, nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func removeAll(path string) error {
	return os.RemoveAll(path)
}
