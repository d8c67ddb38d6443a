package sandbox

import (
	"path"
	"regexp"
	"strings"
)

// Generated code arrives with whatever import spelling and output paths the
// model hallucinated. These rewrites pin both down: imports match the
// installed library versions, and every output file lands in the working
// directory where attribution can find it.

var moviepyEditRe = regexp.MustCompile(`\bmoviepy\.edit\b`)

// harmonizeImports fixes known import-path drift between library versions.
func harmonizeImports(code string) string {
	return moviepyEditRe.ReplaceAllString(code, "moviepy.editor")
}

// Output-producing calls whose first string argument is a file path.
var outputCallRe = regexp.MustCompile(
	`(\.savefig\(|\.to_excel\(|\.to_csv\(|\.save\(|\bimageio\.imwrite\(|\bcv2\.imwrite\()\s*(['"])([^'"]+)(['"])`)

// open() only counts when the mode argument writes.
var openWriteRe = regexp.MustCompile(
	`(\bopen\()\s*(['"])([^'"]+)(['"])(\s*,\s*['"][wax]b?\+?['"])`)

var mkdirLineRe = regexp.MustCompile(
	`(?m)^[ \t]*(os\.makedirs\(.*\)|(?:pathlib\.)?Path\([^\n]*\)\.mkdir\([^\n]*\))[ \t]*\r?\n?`)

// rewriteOutputPaths strips directory components from write-target paths so
// files land in the process working directory, and drops mkdir calls whose
// only purpose was creating those directories.
func rewriteOutputPaths(code string) string {
	code = outputCallRe.ReplaceAllStringFunc(code, flattenPathArg)
	code = openWriteRe.ReplaceAllStringFunc(code, flattenPathArg)
	code = mkdirLineRe.ReplaceAllString(code, "")
	return code
}

func flattenPathArg(match string) string {
	sub := outputCallRe.FindStringSubmatch(match)
	var tail string
	if sub == nil {
		sub = openWriteRe.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		tail = sub[5]
	}
	p := sub[3]
	if !strings.Contains(p, "/") && !strings.Contains(p, "\\") {
		return match
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return sub[1] + sub[2] + base + sub[4] + tail
}

// fontPreamble configures CJK-capable fonts before user code runs, for both
// matplotlib and moviepy text rendering. Injected at the top of every script.
const fontPreamble = `import warnings as _w
_w.filterwarnings("ignore")
try:
    import matplotlib
    matplotlib.use("Agg")
    matplotlib.rcParams["font.sans-serif"] = [
        "Noto Sans CJK SC", "WenQuanYi Micro Hei", "PingFang SC",
        "Microsoft YaHei", "SimHei", "DejaVu Sans",
    ]
    matplotlib.rcParams["axes.unicode_minus"] = False
except ImportError:
    pass
_MOVIEPY_FONT_CONFIG = {
    "font": "Noto-Sans-CJK-SC",
    "fallback": "DejaVu-Sans",
}
`

// PrepareSource runs the full rewrite pipeline over model-generated code.
func PrepareSource(code string) string {
	code = harmonizeImports(code)
	code = rewriteOutputPaths(code)
	return fontPreamble + code
}
