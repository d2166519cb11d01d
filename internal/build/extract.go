package build

import "regexp"

// ArtifactExtractor looks for an artifact identifier in a line of build output.
type ArtifactExtractor func(line string) (string, bool)

var (
	boxPattern = regexp.MustCompile(`[A-Za-z0-9:._-]*?\.box`)
	amiPattern = regexp.MustCompile(`ami-[a-f0-9]+`)
)

// VagrantBoxExtractor matches the first local .box filename on the line. The
// match ends at the first ".box", so "web01.boxes" yields "web01.box".
func VagrantBoxExtractor(line string) (string, bool) {
	return firstMatch(boxPattern, line)
}

// AMIExtractor matches the first EC2 image id on the line.
func AMIExtractor(line string) (string, bool) {
	return firstMatch(amiPattern, line)
}

func firstMatch(pattern *regexp.Regexp, line string) (string, bool) {
	match := pattern.FindString(line)
	if match == "" {
		return "", false
	}
	return match, true
}
