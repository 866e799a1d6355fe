package usage

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/jvs-project/hookctl/pkg/model"
)

// maxHeaderLines bounds how far into a hook file annotations are read.
const maxHeaderLines = 64

var commentPrefixes = []string{"//", "#", "/*", "*", "--"}

// hookMetadata reads "@role <name>" and "@lifecycle <stage,...>" annotations
// from the leading comment block of a hook file:
//
//	// @role admin
//	// @lifecycle onInit, onDestroy
func hookMetadata(path string) (model.CandidateMetadata, bool) {
	f, err := os.Open(path)
	if err != nil {
		return model.CandidateMetadata{}, false
	}
	defer f.Close()

	roles := map[string]bool{}
	stages := map[string]bool{}

	sc := bufio.NewScanner(f)
	for n := 0; n < maxHeaderLines && sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		body, ok := stripComment(line)
		if !ok {
			break
		}
		fields := strings.Fields(body)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "@role":
			for _, r := range splitList(strings.Join(fields[1:], " ")) {
				roles[r] = true
			}
		case "@lifecycle":
			for _, s := range splitList(strings.Join(fields[1:], " ")) {
				stages[s] = true
			}
		}
	}

	md := model.CandidateMetadata{Roles: keys(roles), Stages: keys(stages)}
	return md, len(md.Roles) > 0 || len(md.Stages) > 0
}

func stripComment(line string) (string, bool) {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, p), "*/")), true
		}
	}
	return "", false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
