package graphicstest

import "regexp"

var uniformDecl = regexp.MustCompile(`uniform\s+\w+\s+(\w+)\s*;`)

func scanUniforms(src string) map[string]int32 {
	locs := make(map[string]int32)
	for _, m := range uniformDecl.FindAllStringSubmatch(src, -1) {
		if _, ok := locs[m[1]]; !ok {
			locs[m[1]] = int32(len(locs))
		}
	}
	return locs
}
