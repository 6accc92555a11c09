// Package pdfname validates the Author__Year__Title[__DOI].pdf naming scheme
// the backend relies on to recover metadata from inventory filenames.
package pdfname

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var pattern = regexp.MustCompile(`^([^/\\:*?"<>|]+)__\d{4}__([^/\\:*?"<>|]+)(__.+)?\.pdf$`)

// FormatHint is shown to users next to upload prompts.
const FormatHint = "Author__Year__Title.pdf or Author__Year__Title__DOI.pdf"

// ValidationError explains why a filename was rejected.
type ValidationError struct {
	Name    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Parts is the metadata encoded in a valid filename.
type Parts struct {
	Author string
	Year   int
	Title  string
	DOI    string
}

// Validate checks name against the naming scheme and rejects years later than
// the year of now. It never touches the network.
func Validate(name string, now time.Time) error {
	_, err := Parse(name, now)
	return err
}

// Parse validates name and returns its parts.
func Parse(name string, now time.Time) (Parts, error) {
	if !pattern.MatchString(name) {
		return Parts{}, &ValidationError{
			Name:    name,
			Message: "Invalid format. Please use: " + FormatHint,
		}
	}

	currentYear := now.Year()
	// The title group also matches underscores, so the parts come from the
	// separators rather than the submatches.
	segments := strings.SplitN(strings.TrimSuffix(name, ".pdf"), "__", 4)
	year, err := strconv.Atoi(segments[1])
	if err != nil || year > currentYear {
		return Parts{}, &ValidationError{
			Name:    name,
			Message: fmt.Sprintf("Invalid year. Year should be a number and no later than %d.", currentYear),
		}
	}

	p := Parts{
		Author: segments[0],
		Year:   year,
		Title:  segments[2],
	}
	if len(segments) == 4 {
		p.DOI = segments[3]
	}
	return p, nil
}
