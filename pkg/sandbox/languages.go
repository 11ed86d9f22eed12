package sandbox

import (
	"fmt"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// languageSpec describes how one language runs inside a sandbox. Code and
// input are materialised under /tmp with fixed names; the input path is also
// passed as argv[1] and piped on stdin.
type languageSpec struct {
	Image     string
	FileName  string
	InputFile string
	Cmd       []string
	Env       []string
}

const (
	// scratchDir is where code and input are materialised, under fixed names.
	scratchDir = "/tmp"
	// workDir is the runtime-writable tmpfs scratch.
	workDir = "/tmp/work"
)

var languageSpecs = map[string]languageSpec{
	models.LanguageJavaScript: {
		Image:     "node:20-alpine",
		FileName:  "solution.js",
		InputFile: "input.txt",
		Cmd:       []string{"node", "/tmp/solution.js", "/tmp/input.txt"},
	},
	models.LanguagePython: {
		Image:     "python:3.12-alpine",
		FileName:  "solution.py",
		InputFile: "input.txt",
		Cmd:       []string{"python3", "/tmp/solution.py", "/tmp/input.txt"},
	},
	models.LanguageGo: {
		Image:     "golang:1.24-alpine",
		FileName:  "solution.go",
		InputFile: "input.txt",
		Cmd:       []string{"go", "run", "/tmp/solution.go"},
		Env:       []string{"GOCACHE=/tmp/work/gocache", "GOFLAGS=-mod=mod"},
	},
}

// specFor returns the language spec or an error for unsupported languages.
func specFor(language string) (languageSpec, error) {
	spec, ok := languageSpecs[language]
	if !ok {
		return languageSpec{}, fmt.Errorf("unsupported language %q", language)
	}
	return spec, nil
}

// SupportedLanguages lists the languages the sandbox can run.
func SupportedLanguages() []string {
	return []string{models.LanguageJavaScript, models.LanguagePython, models.LanguageGo}
}
