package reportconfig

import "fmt"

// Kind is the closed set of actions a report step can perform.
type Kind int

const (
	KindUnknown Kind = iota
	KindLogin
	KindCheckPasswordExpired
	KindSelectResponsabilite
	KindAcceptOptional
	KindBrowse
	KindSelectPeriode
	KindWait
	KindLongWait
	KindWaitLargeQuery
	KindWaitLargeQueryDuk008
	KindExtract
	KindExtractIC01
	KindDownload
	KindConditions
)

var kindNames = map[Kind]string{
	KindLogin:                "perform_login",
	KindCheckPasswordExpired: "perform_check_password_expired",
	KindSelectResponsabilite: "perform_select_responsabilite",
	KindAcceptOptional:       "perform_accept_optional",
	KindBrowse:               "perform_browse",
	KindSelectPeriode:        "perform_select_periode",
	KindWait:                 "perform_wait",
	KindLongWait:             "perform_long_wait",
	KindWaitLargeQuery:       "perform_wait_large_query",
	KindWaitLargeQueryDuk008: "perform_wait_large_query_duk008",
	KindExtract:              "perform_extract",
	KindExtractIC01:          "perform_extract_ic01",
	KindDownload:             "perform_download",
	KindConditions:           "perform_conditions",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps an action identifier from a config file to its Kind.
func ParseKind(action string) (Kind, error) {
	if k, ok := kindsByName[action]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// LoginOnly reports whether the step only matters while authenticating.
func (k Kind) LoginOnly() bool {
	return k == KindLogin || k == KindCheckPasswordExpired
}
