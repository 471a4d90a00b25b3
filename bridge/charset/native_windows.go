//go:build windows

package charset

import (
	"strconv"

	"golang.org/x/sys/windows"
)

// Native returns the ANSI code page of the host, which is what most console programs write when they are not attached to a console.
func Native() Candidate {
	return codePage(windows.GetACP())
}

func codePage(cp uint32) Candidate {
	var label string
	switch cp {
	case 65001:
		return UTF8
	case 932:
		label = "shift_jis"
	case 936:
		label = "gbk"
	case 949:
		label = "euc-kr"
	case 950:
		label = "big5"
	default:
		label = "windows-" + strconv.FormatUint(uint64(cp), 10)
	}
	c, err := Lookup(label)
	if err != nil {
		return UTF8
	}
	return c
}
