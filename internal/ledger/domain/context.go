package domain

// ResolveLineContext fills a line's property/unit attribution from its
// linked lease, then its linked unit, leaving explicit values untouched.
// It is pure and idempotent: re-running it on an already-filled line
// changes nothing.
func ResolveLineContext(line TransactionLine, lease *Lease, unit *Unit) TransactionLine {
	if line.UnitID == nil && lease != nil && lease.UnitID != nil {
		unitID := *lease.UnitID
		line.UnitID = &unitID
	}

	if line.PropertyID == nil {
		switch {
		case lease != nil:
			propertyID := lease.PropertyID
			line.PropertyID = &propertyID
		case unit != nil:
			propertyID := unit.PropertyID
			line.PropertyID = &propertyID
		}
	}

	return line
}
