package rules

// Select picks the resolution for action and clientID. Entries that list the
// client explicitly win over the default regardless of declaration order; the
// first explicit match in declaration order is used.
func (d *Definition) Select(action Action, clientID string) (*Resolution, bool) {
	list := d.Resolutions[action]
	var fallback *Resolution
	for i := range list {
		res := &list[i]
		if res.Clients.IsDefault() {
			if fallback == nil {
				fallback = res
			}
			continue
		}
		if clientID != "" && res.Clients.Matches(clientID) {
			return res, true
		}
	}
	return fallback, fallback != nil
}
