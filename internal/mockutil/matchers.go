package mockutil

import (
	"fmt"
	"strings"

	"github.com/golang/mock/gomock"
	"gopkg.hrry.dev/edgestack/pkg/host"
)

func HasPrefix(prefix string) gomock.Matcher {
	return &PrefixMatcher{prefix: prefix}
}

type PrefixMatcher struct {
	prefix string
}

func (pm *PrefixMatcher) Matches(x interface{}) bool {
	switch v := x.(type) {
	case string:
		return strings.HasPrefix(v, pm.prefix)
	case host.Cmd:
		return strings.HasPrefix(v.String(), pm.prefix)
	default:
		return false
	}
}

func (pm *PrefixMatcher) String() string {
	return fmt.Sprintf("PrefixMatcher{%q}", pm.prefix)
}

// Cmd matches a host.Cmd by its program name and arguments, ignoring Env.
func Cmd(name string, args ...string) gomock.Matcher {
	return &cmdMatcher{line: host.Command(name, args...).String()}
}

type cmdMatcher struct {
	line string
}

func (cm *cmdMatcher) Matches(x interface{}) bool {
	c, ok := x.(host.Cmd)
	if !ok {
		return false
	}
	return c.String() == cm.line
}

func (cm *cmdMatcher) String() string {
	return fmt.Sprintf("Cmd{%q}", cm.line)
}
