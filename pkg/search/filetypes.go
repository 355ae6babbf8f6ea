package search

import (
	"path"
	"strings"
)

// TypeMode is the NMDC item-type filter.
type TypeMode int

const (
	TypeAny TypeMode = iota
	TypeAudio
	TypeCompressed
	TypeDocument
	TypeExecutable
	TypePicture
	TypeVideo
	TypeDirectory
	TypeTTH
	TypeFile
)

// Extension classes used by the NMDC type filter.
var typeExtensions = map[TypeMode][]string{
	TypeAudio: {
		"aac", "ac3", "aif", "aiff", "ape", "au", "flac", "m4a", "mid",
		"mka", "mp1", "mp2", "mp3", "ogg", "opus", "ra", "voc", "wav",
		"wma",
	},
	TypeCompressed: {
		"7z", "ace", "arj", "bz2", "gz", "lha", "lzh", "rar", "tar",
		"tgz", "xz", "z", "zip",
	},
	TypeDocument: {
		"doc", "docx", "epub", "htm", "html", "nfo", "odt", "pdf", "rtf",
		"txt", "xls", "xlsx",
	},
	TypeExecutable: {
		"app", "bat", "cmd", "com", "dll", "exe", "jar", "msi", "ps1",
		"vbs",
	},
	TypePicture: {
		"ai", "bmp", "cdr", "eps", "gif", "ico", "img", "jpeg", "jpg",
		"png", "ps", "psd", "svg", "tif", "tiff", "webp",
	},
	TypeVideo: {
		"3gp", "asf", "asx", "avi", "divx", "flv", "m4v", "mkv", "mov",
		"mp4", "mpeg", "mpg", "ogm", "pxp", "qt", "rm", "rmvb", "ts",
		"vob", "webm", "wmv",
	},
}

// extensionOf returns the lowercase extension without the dot.
func extensionOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// matchesTypeExtensions reports whether a file name belongs to the
// extension class of mode. Modes without a class accept everything.
func matchesTypeExtensions(mode TypeMode, nameLower string) bool {
	exts, ok := typeExtensions[mode]
	if !ok {
		return true
	}
	ext := extensionOf(nameLower)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
