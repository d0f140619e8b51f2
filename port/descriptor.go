// File: port/descriptor.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-width service descriptor encoding for shared-memory port records.

package port

import (
	"bytes"
	"fmt"

	"github.com/momentics/hioload-ipc/api"
)

// descriptorData is the shared-memory form of a service descriptor. Fields
// are NUL-padded.
type descriptorData struct {
	service  [api.MaxServiceFieldLen]byte
	instance [api.MaxServiceFieldLen]byte
	event    [api.MaxServiceFieldLen]byte
}

func encodeDescriptor(d api.ServiceDescriptor) (descriptorData, error) {
	var out descriptorData
	for _, f := range []struct {
		name string
		src  string
		dst  []byte
	}{
		{"service", d.Service, out.service[:]},
		{"instance", d.Instance, out.instance[:]},
		{"event", d.Event, out.event[:]},
	} {
		if len(f.src) == 0 {
			return descriptorData{}, fmt.Errorf("service descriptor %s field is empty", f.name)
		}
		if len(f.src) > api.MaxServiceFieldLen {
			return descriptorData{}, fmt.Errorf("service descriptor %s field %q exceeds %d bytes", f.name, f.src, api.MaxServiceFieldLen)
		}
		copy(f.dst, f.src)
	}
	return out, nil
}

func (d *descriptorData) decode() api.ServiceDescriptor {
	return api.ServiceDescriptor{
		Service:  trimField(d.service[:]),
		Instance: trimField(d.instance[:]),
		Event:    trimField(d.event[:]),
	}
}

func trimField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
