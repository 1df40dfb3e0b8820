package amalgamate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	copyrightEmailRx = regexp.MustCompile(`<([^>]+)>`)
	// Only the comma-separated list right after the © sign counts as years,
	// a year-like number in the holder name or email doesn't
	copyrightYearsRx = regexp.MustCompile(`Copyright © ((?:\d{4},\s*)*\d{4})`)
	copyrightYearRx  = regexp.MustCompile(`\d{4}`)
)

// sortCopyrights orders the collected copyright notices lexicographically
// and merges entries sharing one email: an entry whose years are a subset of
// an already emitted one is dropped, a proper superset replaces it, and
// anything else is a fatal year conflict naming the years the earlier entry
// is missing.
func sortCopyrights(copyrights map[string]struct{}) ([]string, error) {
	all := make([]string, 0, len(copyrights))
	for line := range copyrights {
		all = append(all, line)
	}
	sort.Strings(all)

	type seen struct {
		index int
		years map[string]struct{}
	}

	var merged []string
	byEmail := map[string]*seen{}
	for _, line := range all {
		m := copyrightEmailRx.FindStringSubmatch(line)
		if m == nil {
			merged = append(merged, line)
			continue
		}
		email := m[1]

		years := map[string]struct{}{}
		if list := copyrightYearsRx.FindStringSubmatch(line); list != nil {
			for _, year := range copyrightYearRx.FindAllString(list[1], -1) {
				years[year] = struct{}{}
			}
		}

		prev, ok := byEmail[email]
		if !ok {
			byEmail[email] = &seen{index: len(merged), years: years}
			merged = append(merged, line)
			continue
		}

		var missing []string
		for year := range years {
			if _, ok := prev.years[year]; !ok {
				missing = append(missing, year)
			}
		}
		if len(missing) == 0 {
			// Nothing the emitted entry doesn't already cover
			continue
		}

		superset := true
		for year := range prev.years {
			if _, ok := years[year]; !ok {
				superset = false
				break
			}
		}
		if superset {
			merged[prev.index] = line
			prev.years = years
			continue
		}

		sort.Strings(missing)
		return nil, fmt.Errorf("conflicting copyright years for <%s>, earlier notice is missing %s",
			email, strings.Join(missing, ", "))
	}

	return merged, nil
}

// applyCopyrights replaces the {{copyright}} placeholder line with the
// merged, ordered copyright list. A missing placeholder is only a warning.
func (a *Amalgamator) applyCopyrights(ctx *runContext, lines []string) ([]string, error) {
	if len(ctx.copyrights) == 0 {
		return lines, nil
	}

	merged, err := sortCopyrights(ctx.copyrights)
	if err != nil {
		return nil, err
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "{{copyright}}" {
			result := make([]string, 0, len(lines)+len(merged)-1)
			result = append(result, lines[:i]...)
			result = append(result, merged...)
			result = append(result, lines[i+1:]...)
			return result, nil
		}
	}

	a.logger.Warn().Msg("No {{copyright}} placeholder found, ignoring collected copyright notices")
	return lines, nil
}
