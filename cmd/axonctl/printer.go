package main

import (
	"fmt"
	"io"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

type printer struct {
	out   io.Writer
	names *typeid.Table
}

func (p *printer) printBatch(data []byte) {
	d := action.NewDecoder(data)
	for {
		rec, ok := d.Next()
		if !ok {
			break
		}
		p.printRecord(rec)
	}
	if err := d.Err(); err != nil {
		fmt.Fprintf(p.out, "  ! %v\n", err)
	}
}

func (p *printer) printRecord(rec action.Record) {
	fmt.Fprintf(p.out, "%-8s entity=%d type=%s", rec.Kind, rec.Entity, p.typeName(rec.Type))

	if rec.Kind == action.Change || rec.Kind == action.Invoke {
		fmt.Fprintf(p.out, " %s", payloadString(rec.Payload))
	}
	fmt.Fprintln(p.out)
}

func (p *printer) typeName(id typeid.ID) string {
	if name, ok := p.names.Lookup(id); ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func payloadString(payload []byte) string {
	v, err := sbin.NewReader(payload).ReadAny()
	if err != nil {
		return fmt.Sprintf("<%d bytes: %v>", len(payload), err)
	}
	return fmt.Sprintf("%v", v)
}
