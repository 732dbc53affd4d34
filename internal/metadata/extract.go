package metadata

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
)

// DefaultMaxFiles caps how many source files one extraction reads.
const DefaultMaxFiles = 100

// Source names the project to extract from.
type Source struct {
	Root            string
	Name            string
	Language        candidate.Language
	SourceDirs      []string
	TargetFunctions []string
}

// Extractor turns a project into Metadata.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*Metadata, error)
}

// SourceExtractor scans source text for function definitions.
type SourceExtractor struct {
	MaxFiles int
	Logger   *slog.Logger
}

// NewSourceExtractor returns an extractor with default limits.
func NewSourceExtractor() *SourceExtractor {
	return &SourceExtractor{MaxFiles: DefaultMaxFiles, Logger: slog.Default()}
}

var extensions = map[candidate.Language][]string{
	candidate.LanguageC:      {".c", ".h"},
	candidate.LanguageCPP:    {".cpp", ".hpp", ".cc", ".cxx", ".h"},
	candidate.LanguagePython: {".py"},
}

// Extract walks the project and returns its metadata.
//
// Configured source directories are searched first; when they yield no
// files the whole root is searched. A project with no functions, or a
// configured target function that does not exist, is a *ParseError.
func (x *SourceExtractor) Extract(ctx context.Context, src Source) (*Metadata, error) {
	if !src.Language.Valid() {
		return nil, &ParseError{Path: src.Root, Message: "unsupported language " + string(src.Language)}
	}
	info, err := os.Stat(src.Root)
	if err != nil {
		return nil, &ParseError{Path: src.Root, Message: "cannot read project", Err: err}
	}
	if !info.IsDir() {
		return nil, &ParseError{Path: src.Root, Message: "project root is not a directory"}
	}

	files, err := x.collect(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &ParseError{Path: src.Root, Message: "no source files found"}
	}

	name := src.Name
	if name == "" {
		name = filepath.Base(src.Root)
	}
	md := &Metadata{
		Project:  name,
		Language: src.Language,
		Root:     src.Root,
	}

	includes := make(map[string]struct{})
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(filepath.Join(src.Root, rel))
		if err != nil {
			return nil, &ParseError{Path: rel, Message: "read failed", Err: err}
		}
		text := string(content)

		var fns []Function
		if src.Language == candidate.LanguagePython {
			fns = pythonFunctions(rel, text)
		} else {
			fns = cFunctions(rel, text)
			for _, inc := range cIncludes(text) {
				includes[inc] = struct{}{}
			}
		}
		md.Functions = append(md.Functions, fns...)
		if isCompilable(src.Language, rel) {
			md.SourceFiles = append(md.SourceFiles, rel)
		}
	}

	for inc := range includes {
		md.Includes = append(md.Includes, inc)
	}
	slices.Sort(md.Includes)

	if len(md.Functions) == 0 {
		return nil, &ParseError{Path: src.Root, Message: "no functions found"}
	}

	if len(src.TargetFunctions) > 0 {
		for _, name := range src.TargetFunctions {
			if _, ok := md.Function(name); !ok {
				return nil, &ParseError{Path: src.Root, Message: "target function " + name + " not found"}
			}
		}
		md.Targets = slices.Clone(src.TargetFunctions)
	} else {
		for _, f := range md.Functions {
			if f.Public && !slices.Contains(md.Targets, f.Name) {
				md.Targets = append(md.Targets, f.Name)
			}
		}
	}
	if len(md.Targets) == 0 {
		return nil, &ParseError{Path: src.Root, Message: "no public functions to target"}
	}

	x.logger().Info("metadata extracted",
		"project", md.Project,
		"files", len(files),
		"functions", len(md.Functions),
		"targets", len(md.Targets))
	return md, nil
}

func (x *SourceExtractor) logger() *slog.Logger {
	if x.Logger != nil {
		return x.Logger
	}
	return slog.Default()
}

// collect returns project-relative source paths, sorted and capped.
func (x *SourceExtractor) collect(ctx context.Context, src Source) ([]string, error) {
	exts := extensions[src.Language]
	limit := x.MaxFiles
	if limit <= 0 {
		limit = DefaultMaxFiles
	}

	var files []string
	for _, dir := range src.SourceDirs {
		found, err := walk(ctx, src.Root, filepath.Join(src.Root, dir), exts)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		found, err := walk(ctx, src.Root, src.Root, exts)
		if err != nil {
			return nil, err
		}
		files = found
	}

	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) > limit {
		x.logger().Warn("source file cap reached", "found", len(files), "limit", limit)
		files = files[:limit]
	}
	return files, nil
}

func walk(ctx context.Context, root, dir string, exts []string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, &ParseError{Path: dir, Message: "walk failed", Err: err}
	}
	return out, nil
}

func isCompilable(lang candidate.Language, path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c":
		return true
	case ".cpp", ".cc", ".cxx":
		return lang == candidate.LanguageCPP
	case ".py":
		return lang == candidate.LanguagePython
	}
	return false
}

var (
	cFuncPattern = regexp.MustCompile(`(\w+(?:\s*\*)?)\s+(\**\w+)\s*\(([^)]*)\)\s*\{`)
	includeLine  = regexp.MustCompile(`^\s*#\s*include\s*[<"]([^>"]+)[>"]`)
	pyDefPattern = regexp.MustCompile(`(?m)^([ \t]*)(?:async\s+)?def\s+(\w+)\s*\(([^)]*)\)\s*(?:->\s*([^:]+))?:`)
)

var skipNames = map[string]bool{
	"if": true, "while": true, "for": true, "switch": true, "return": true, "sizeof": true,
	"printf": true, "scanf": true, "malloc": true, "free": true, "calloc": true, "realloc": true,
	"strcpy": true, "strncpy": true, "strcat": true, "strlen": true, "strcmp": true, "strstr": true,
	"memcpy": true, "memset": true, "memmove": true, "memcmp": true,
	"atoi": true, "atof": true, "atol": true, "strtol": true, "strtod": true,
	"fopen": true, "fclose": true, "fread": true, "fwrite": true, "fprintf": true, "fscanf": true,
	"exit": true, "abort": true, "assert": true,
	"LLVMFuzzerTestOneInput": true, "LLVMFuzzerInitialize": true,
}

// cFunctions finds C/C++ function definitions (signatures followed by a body).
func cFunctions(file, text string) []Function {
	var out []Function
	for _, m := range cFuncPattern.FindAllStringSubmatchIndex(text, -1) {
		ret := strings.TrimSpace(text[m[2]:m[3]])
		name := strings.TrimSpace(text[m[4]:m[5]])
		params := strings.TrimSpace(text[m[6]:m[7]])

		if stars := strings.Count(name, "*"); stars > 0 {
			name = strings.TrimLeft(name, "*")
			ret += strings.Repeat("*", stars)
		}
		if skipNames[name] || skipNames[ret] || ret == "else" {
			continue
		}

		lineStart := strings.LastIndexByte(text[:m[0]], '\n') + 1
		prefix := text[lineStart:m[0]]

		out = append(out, Function{
			Name:       name,
			ReturnType: ret,
			Params:     cParams(params),
			File:       file,
			Line:       strings.Count(text[:m[0]], "\n") + 1,
			Public:     !strings.Contains(prefix, "static"),
		})
	}
	return out
}

func cParams(list string) []Param {
	if list == "" || list == "void" {
		return nil
	}
	var out []Param
	for _, raw := range strings.Split(list, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		i := strings.LastIndexAny(p, " \t*")
		if i < 0 {
			continue
		}
		typ := strings.TrimSpace(p[:i+1])
		name := strings.TrimSpace(strings.Trim(p[i+1:], "[]0123456789"))
		if name == "" || typ == "" {
			continue
		}
		out = append(out, Param{Name: name, Type: typ, Pointer: strings.Contains(p, "*") || strings.Contains(p, "[")})
	}
	return out
}

func cIncludes(text string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if m := includeLine.FindStringSubmatch(sc.Text()); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

// pythonFunctions finds def statements; names starting with _ are private.
func pythonFunctions(file, text string) []Function {
	var out []Function
	for _, m := range pyDefPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[4]:m[5]]
		ret := "Any"
		if m[8] >= 0 {
			ret = strings.TrimSpace(text[m[8]:m[9]])
		}
		var params []Param
		for _, raw := range strings.Split(text[m[6]:m[7]], ",") {
			p := strings.TrimSpace(raw)
			if p == "" || p == "self" || p == "cls" || strings.HasPrefix(p, "*") {
				continue
			}
			if eq := strings.IndexByte(p, '='); eq >= 0 {
				p = strings.TrimSpace(p[:eq])
			}
			typ := "Any"
			if colon := strings.IndexByte(p, ':'); colon >= 0 {
				typ = strings.TrimSpace(p[colon+1:])
				p = strings.TrimSpace(p[:colon])
			}
			params = append(params, Param{Name: p, Type: typ})
		}
		out = append(out, Function{
			Name:       name,
			ReturnType: ret,
			Params:     params,
			File:       file,
			Line:       strings.Count(text[:m[0]], "\n") + 1,
			Public:     !strings.HasPrefix(name, "_") && m[3] == m[2],
		})
	}
	return out
}
