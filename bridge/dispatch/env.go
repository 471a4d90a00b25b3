package dispatch

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

var foldEnvKeys = runtime.GOOS == "windows"

func envKey(kv string) string {
	// Windows has per-drive entries such as "=C:=C:\dir", so the separator search skips the first byte.
	if len(kv) == 0 {
		return ""
	}
	i := strings.IndexByte(kv[1:], '=')
	if i < 0 {
		return kv
	}
	return kv[:i+1]
}

func sameKey(a, b string) bool {
	if foldEnvKeys {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// mergeEnv overlays overlay on base. Overridden base entries are dropped and overlay entries are appended in key order.
func mergeEnv(base []string, overlay map[string]string) []string {
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k := envKey(kv)
		overridden := false
		for _, ok := range keys {
			if sameKey(k, ok) {
				overridden = true
				break
			}
		}
		if !overridden {
			out = append(out, kv)
		}
	}
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// envValue returns the last value of key in env.
func envValue(env []string, key string) string {
	var v string
	for _, kv := range env {
		if sameKey(envKey(kv), key) && len(kv) > len(key) {
			v = kv[len(key)+1:]
		}
	}
	return v
}

// LookPath searches the PATH of env for an executable named file and returns its absolute path.
// On Windows the PATHEXT extensions of env are tried as well. Names containing a directory are only checked when absolute.
func LookPath(file string, env []string) (string, error) {
	exts := pathExts(env, file)
	if strings.ContainsAny(file, `/\`) {
		if !filepath.IsAbs(file) {
			return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
		}
		for _, ext := range exts {
			if p := file + ext; isExecutable(p) {
				return p, nil
			}
		}
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
	for _, dir := range filepath.SplitList(envValue(env, "PATH")) {
		if dir == "" {
			continue
		}
		for _, ext := range exts {
			p := filepath.Join(dir, file+ext)
			if !isExecutable(p) {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return "", err
			}
			return abs, nil
		}
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

func pathExts(env []string, file string) []string {
	if runtime.GOOS != "windows" {
		return []string{""}
	}
	pathext := envValue(env, "PATHEXT")
	if pathext == "" {
		pathext = ".COM;.EXE;.BAT;.CMD"
	}
	var exts []string
	for _, e := range strings.Split(strings.ToLower(pathext), ";") {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	fileExt := strings.ToLower(filepath.Ext(file))
	for _, e := range exts {
		if fileExt == e {
			return []string{""}
		}
	}
	return exts
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
