package availability

import (
	"slices"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// ResourceRequest runs the slot generator once per resource. Appointments are keyed by
// resource id; entries under "" or model.GenericResourceID are not pinned to anyone
// and block every resource.
type ResourceRequest struct {
	Base         Request
	Resources    []string
	Appointments map[string][]Interval
}

// Availability maps each bookable "HH:mm" start to the resources free at that time,
// in the order the resources were given.
type Availability struct {
	Times []string
	Free  map[string][]string
}

// MapResources evaluates every resource independently. A tenant without resources is
// treated as a single generic resource that carries every appointment.
func MapResources(req ResourceRequest) (Availability, error) {
	resources := req.Resources
	if len(resources) == 0 {
		resources = []string{model.GenericResourceID}
	}

	out := Availability{Free: map[string][]string{}}
	for _, id := range resources {
		base := req.Base
		base.Appointments = appointmentsFor(id, len(req.Resources) == 0, req.Appointments)
		slots, err := Generate(base)
		if err != nil {
			return Availability{}, err
		}
		for _, hm := range FormatSlots(slots) {
			if _, ok := out.Free[hm]; !ok {
				out.Times = append(out.Times, hm)
			}
			out.Free[hm] = append(out.Free[hm], id)
		}
	}
	slices.Sort(out.Times)
	return out, nil
}

func appointmentsFor(resource string, onlyGeneric bool, byResource map[string][]Interval) []Interval {
	if onlyGeneric {
		var all []Interval
		for _, appts := range byResource {
			all = append(all, appts...)
		}
		return all
	}
	out := append([]Interval(nil), byResource[resource]...)
	out = append(out, byResource[""]...)
	if resource != model.GenericResourceID {
		out = append(out, byResource[model.GenericResourceID]...)
	}
	return out
}

// Assign picks the first free resource at hm.
func (a Availability) Assign(hm string) (string, bool) {
	free := a.Free[hm]
	if len(free) == 0 {
		return "", false
	}
	return free[0], true
}

// IsFree reports whether resource can take a booking starting at hm.
func (a Availability) IsFree(hm, resource string) bool {
	return slices.Contains(a.Free[hm], resource)
}

func (a Availability) Empty() bool {
	return len(a.Times) == 0
}
