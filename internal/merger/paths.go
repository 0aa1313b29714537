package merger

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joe/modmerge/internal/arctool"
)

// Exported constants.
const (
	// TempDirName is the folder under the output root holding per-target working folders.
	TempDirName = "temp"
)

// layout names the files of one target's working folder:
//
//	<out>/temp/<stem>/base/<file>          baseline copy, later the repacked archive
//	<out>/temp/<stem>/base/<stem>/         unpacked baseline
//	<out>/temp/<stem>/mods/<i>/<file>      contributor i copy
//	<out>/temp/<stem>/mods/<i>/<stem>/     unpacked contributor i
//
// Keeping the baseline and contributors in separate subfolders means no stem can
// collide with a contributor index folder.
type layout struct {
	work         string
	baseline     string
	contributors []string
}

func newLayout(outputRoot, stem, baseline string, contributors []string) layout {
	work := filepath.Join(outputRoot, TempDirName, stem)

	l := layout{
		work:         work,
		baseline:     filepath.Join(work, "base", filepath.Base(filepath.FromSlash(baseline))),
		contributors: make([]string, len(contributors)),
	}

	for i, contributor := range contributors {
		l.contributors[i] = filepath.Join(work, "mods", strconv.Itoa(i), filepath.Base(filepath.FromSlash(contributor)))
	}

	return l
}

func (l layout) baselineDir() string {
	return arctool.UnpackedDir(l.baseline)
}

func (l layout) contributorDir(i int) string {
	return arctool.UnpackedDir(l.contributors[i])
}

// InstallPath returns where the merged archive for baseline is written: under the
// output root, at the baseline's path from the top-level folder onward. Without a
// top-level segment the path relative to the search root is used, and failing that
// the file name alone.
func InstallPath(settings Settings, baseline string) string {
	slashed := filepath.ToSlash(baseline)

	if settings.TopLevel != "" {
		segments := strings.Split(slashed, "/")

		for i, segment := range segments {
			if strings.EqualFold(segment, settings.TopLevel) && i < len(segments)-1 {
				return filepath.Join(settings.OutputRoot, filepath.FromSlash(strings.Join(segments[i:], "/")))
			}
		}
	}

	rel, err := filepath.Rel(settings.SearchRoot, filepath.FromSlash(slashed))
	if err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel) {
		return filepath.Join(settings.OutputRoot, rel)
	}

	return filepath.Join(settings.OutputRoot, filepath.Base(filepath.FromSlash(slashed)))
}
