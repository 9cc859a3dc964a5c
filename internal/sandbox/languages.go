package sandbox

import (
	"sort"
	"strings"

	"pkt.systems/coderoom/schema"
)

// LangSpec describes how one allow-listed language is built and run.
// Command argv entries may use the {entry} and {bin} placeholders; they
// expand to container paths inside the workspace. User code never enters
// a command line, only the entry file.
type LangSpec struct {
	Name    schema.Language
	Image   string
	Entry   string
	Compile []string
	Run     []string
}

// Compiled reports whether the language needs a build step before running.
func (l LangSpec) Compiled() bool { return len(l.Compile) > 0 }

const binaryName = "prog"

var languages = map[schema.Language]LangSpec{
	"javascript": {
		Name:  "javascript",
		Image: "code-runner-javascript:latest",
		Entry: "main.js",
		Run:   []string{"node", "{entry}"},
	},
	"python": {
		Name:  "python",
		Image: "code-runner-python:latest",
		Entry: "main.py",
		Run:   []string{"python3", "{entry}"},
	},
	// The entry filename is fixed: javac derives the class name from it.
	"java": {
		Name:    "java",
		Image:   "code-runner-java:latest",
		Entry:   "Main.java",
		Compile: []string{"javac", "{entry}"},
		Run:     []string{"java", "Main"},
	},
	"cpp": {
		Name:    "cpp",
		Image:   "code-runner-cpp:latest",
		Entry:   "main.cpp",
		Compile: []string{"g++", "-O2", "-o", "{bin}", "{entry}"},
		Run:     []string{"{bin}"},
	},
	"c": {
		Name:    "c",
		Image:   "code-runner-c:latest",
		Entry:   "main.c",
		Compile: []string{"gcc", "-O2", "-o", "{bin}", "{entry}"},
		Run:     []string{"{bin}"},
	},
	"go": {
		Name:    "go",
		Image:   "code-runner-go:latest",
		Entry:   "main.go",
		Compile: []string{"go", "build", "-o", "{bin}", "{entry}"},
		Run:     []string{"{bin}"},
	},
}

// Lookup resolves a language tag against the allow list.
func Lookup(language schema.Language) (LangSpec, bool) {
	spec, ok := languages[schema.NormalizeLanguage(language)]
	return spec, ok
}

// Languages returns the allow list sorted by name.
func Languages() []schema.Language {
	out := make([]schema.Language, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// expandCommand substitutes the {entry} and {bin} placeholders with
// container paths under the workspace mount target.
func expandCommand(argv []string, workDir, entry string) []string {
	entryPath := workDir + "/" + entry
	binPath := workDir + "/" + binaryName
	out := make([]string, len(argv))
	for i, arg := range argv {
		arg = strings.ReplaceAll(arg, "{entry}", entryPath)
		arg = strings.ReplaceAll(arg, "{bin}", binPath)
		out[i] = arg
	}
	return out
}
