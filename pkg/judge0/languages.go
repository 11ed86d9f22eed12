package judge0

import (
	"fmt"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Judge0 numeric language ids.
var languageIDs = map[string]int{
	models.LanguageJavaScript: 63, // Node.js
	models.LanguagePython:     71, // Python 3
	models.LanguageGo:         60,
}

// languageID maps a language to its backend id; unsupported languages fail
// fast before any network call.
func languageID(language string) (int, error) {
	id, ok := languageIDs[language]
	if !ok {
		return 0, fmt.Errorf("judge0: unsupported language %q", language)
	}
	return id, nil
}

// canonicalInputPath is the fixed path solutions read their input from when
// running in the local sandbox. Judge0 only provides stdin, so submitted code
// is wrapped to make reads of this path resolve to stdin content.
const canonicalInputPath = "/tmp/input.txt"

// wrapCode prepends a per-language shim that redirects reads of the
// canonical input path to stdin.
func wrapCode(language, code string) string {
	switch language {
	case models.LanguageJavaScript:
		return jsStdinShim + "\n" + code
	case models.LanguagePython:
		return pyStdinShim + "\n" + code
	default:
		// Go solutions read stdin directly; no shim required.
		return code
	}
}

const jsStdinShim = `const __fs = require('fs');
const __stdin = __fs.readFileSync(0, 'utf8');
const __origRead = __fs.readFileSync;
__fs.readFileSync = function(path, opts) {
  if (path === '` + canonicalInputPath + `') return __stdin;
  return __origRead.call(__fs, path, opts);
};
process.argv[2] = '` + canonicalInputPath + `';`

const pyStdinShim = `import sys as __sys, io as __io, builtins as __builtins
__stdin_data = __sys.stdin.read()
__orig_open = __builtins.open
def __open(path, *args, **kwargs):
    if path == "` + canonicalInputPath + `":
        return __io.StringIO(__stdin_data)
    return __orig_open(path, *args, **kwargs)
__builtins.open = __open
__sys.stdin = __io.StringIO(__stdin_data)
__sys.argv = [__sys.argv[0] if __sys.argv else "main", "` + canonicalInputPath + `"]`
