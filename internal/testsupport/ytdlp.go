package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FakeYtDlp describes how the generated yt-dlp stand-in behaves.
type FakeYtDlp struct {
	// Fixture is copied to the requested output path on success.
	Fixture string
	// Title is reported in the --dump-json output. Empty omits the field.
	Title string
	// Fail makes the script leave a .part file behind and exit non-zero.
	Fail bool
	// Args, when set, receives the argument list of the last invocation.
	Args string
}

// WriteFakeYtDlp writes an executable shell script that mimics the yt-dlp
// flags the downloader uses and returns its path.
func WriteFakeYtDlp(t testing.TB, dir string, fake FakeYtDlp) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp requires a POSIX shell")
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if fake.Args != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' \"$@\" > %s\n", shellQuote(fake.Args))
	}
	b.WriteString(`out=""
fmt="mp3"
while [ $# -gt 0 ]; do
  case "$1" in
    --output|-o) out="$2"; shift ;;
    --audio-format) fmt="$2"; shift ;;
  esac
  shift
done
dest=$(printf '%s' "$out" | sed "s/%(ext)s/$fmt/")
`)
	if fake.Fail {
		b.WriteString(`printf 'partial' > "$dest.part"
echo "ERROR: [generic] Unable to download webpage: HTTP Error 404: Not Found" >&2
exit 1
`)
	} else {
		fmt.Fprintf(&b, "cp %s \"$dest\" || exit 1\n", shellQuote(fake.Fixture))
		if fake.Title != "" {
			fmt.Fprintf(&b, "printf '%%s\\n' %s\n", shellQuote(fmt.Sprintf(`{"id": "abc123", "title": %q, "ext": "webm"}`, fake.Title)))
		} else {
			b.WriteString("printf '%s\\n' '{\"id\": \"abc123\", \"ext\": \"webm\"}'\n")
		}
	}

	path := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}
	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
