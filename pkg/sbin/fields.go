package sbin

import (
	"reflect"
	"strings"
	"sync"
)

type field struct {
	name  string
	index int
}

type structInfo struct {
	fields []field
	byName map[string]int
}

var structCache sync.Map // reflect.Type -> *structInfo

// cachedStruct lists the exported fields of t in declaration order. The
// `sbin:"name"` tag renames a field and `sbin:"-"` skips it.
func cachedStruct(t reflect.Type) *structInfo {
	if v, ok := structCache.Load(t); ok {
		return v.(*structInfo)
	}

	info := &structInfo{byName: make(map[string]int)}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		name := sf.Name
		if tag, ok := sf.Tag.Lookup("sbin"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}

		info.byName[name] = len(info.fields)
		info.fields = append(info.fields, field{name: name, index: i})
	}

	v, _ := structCache.LoadOrStore(t, info)
	return v.(*structInfo)
}
