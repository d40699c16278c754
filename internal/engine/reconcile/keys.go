package reconcile

import (
	"Go2NetStats/internal/model"
	"fmt"
)

// KeyFunc derives the aggregation key of a flow entry.
type KeyFunc func(key model.FlowKey) model.LogicalKey

// ByCookie aggregates every flow sharing a cookie, e.g. all flows realizing
// one pod<->service pair.
func ByCookie(key model.FlowKey) model.LogicalKey {
	return model.LogicalKey{Cookie: key.Cookie}
}

// ByCookieAndGroups aggregates per classifier cookie and source/destination
// endpoint group, as carried by reg0 and reg2.
func ByCookieAndGroups(key model.FlowKey) model.LogicalKey {
	return model.LogicalKey{
		Cookie:   key.Cookie,
		SrcGroup: key.Match.Reg0,
		DstGroup: key.Match.Reg2,
	}
}

// DropPriority is the priority of the per routing domain drop entries of a policy table.
const DropPriority = 1

// ByRoutingDomainDrop counts drop entries, identified by a routing domain in
// reg6 and DropPriority, per routing domain. Every other entry is keyed like
// ByCookieAndGroups.
func ByRoutingDomainDrop(key model.FlowKey) model.LogicalKey {
	if key.Match.Reg6 != 0 && key.Priority == DropPriority {
		return model.LogicalKey{RoutingDomain: key.Match.Reg6}
	}
	return ByCookieAndGroups(key)
}

// KeyFuncByName resolves the key function configured for a table.
func KeyFuncByName(name string) (KeyFunc, error) {
	switch name {
	case "", "cookie":
		return ByCookie, nil
	case "cookie_regs":
		return ByCookieAndGroups, nil
	case "rd_drop":
		return ByRoutingDomainDrop, nil
	default:
		return nil, fmt.Errorf("unknown key function: %q", name)
	}
}
