package rules

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnresolvedPlaceholder is returned when a link still carries a placeholder
// after substitution.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

// ErrNoTemplate is returned when no link template applies.
var ErrNoTemplate = errors.New("no link template")

var (
	placeholderRE     = regexp.MustCompile(`<[A-Za-z][A-Za-z0-9_]*>`)
	placeholderOnlyRE = regexp.MustCompile(`^<[A-Za-z][A-Za-z0-9_]*>$`)
	ipv4RE            = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// QueryEscape output differs from a browser URI component encoding only here.
var componentFixups = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeComponent percent-encodes s the way browsers encode a URI component.
func EncodeComponent(s string) string {
	return componentFixups.Replace(url.QueryEscape(s))
}

// Template picks the link template for the extracted values.
func (d *Definition) Template(values map[string]string) string {
	device := values[PlaceholderDevice]
	switch {
	case d.Links.ByAddress != "" && ipv4RE.MatchString(device):
		return d.Links.ByAddress
	case d.Links.ByName != "":
		return d.Links.ByName
	default:
		return d.Links.Generic
	}
}

// EvidenceLink builds the evidence link for one alert from its extracted
// values.
func (d *Definition) EvidenceLink(values map[string]string) (string, error) {
	link := d.Template(values)
	if link == "" {
		return "", ErrNoTemplate
	}
	for placeholder, v := range values {
		link = strings.ReplaceAll(link, placeholder, EncodeComponent(v))
	}
	if left := placeholderRE.FindAllString(link, -1); len(left) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(left, ", "))
	}
	return link, nil
}
