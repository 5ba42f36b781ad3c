package provision

import (
	"errors"
	"fmt"
	"strings"
)

// Image is a container image reference.
type Image struct {
	Registry string
	Name     string
	Tag      string
}

func ParseImage(s string) (*Image, error) {
	var img Image
	err := parseImage(&img, s)
	if err != nil {
		return nil, err
	}
	return &img, img.Validate()
}

func (img *Image) Validate() error {
	if len(img.Name) == 0 {
		return errors.New("image name is required")
	}
	if len(img.Tag) == 0 {
		return errors.New("image version tag is required")
	}
	return nil
}

func (img *Image) String() string {
	if len(img.Registry) == 0 {
		return fmt.Sprintf("%s:%s", img.Name, img.Tag)
	}
	return fmt.Sprintf("%s/%s:%s", img.Registry, img.Name, img.Tag)
}

var errEmptyImageString = errors.New("empty image")

// parseImage splits registry/name:tag. The first path segment is a registry
// only when it looks like a host, the tag defaults to latest.
func parseImage(img *Image, s string) error {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return errEmptyImageString
	}
	if ix := strings.IndexByte(s, '/'); ix > 0 {
		first := s[:ix]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			img.Registry = first
			s = s[ix+1:]
		}
	}
	ix := strings.LastIndexByte(s, ':')
	if ix > 0 && !strings.Contains(s[ix:], "/") {
		img.Tag = s[ix+1:]
		s = s[:ix]
	} else {
		img.Tag = "latest"
	}
	img.Name = s
	return nil
}
