package ledger

// Group is the rows for one pass type, in ledger order.
type Group struct {
	PassType string     `json:"pass_type"`
	Rows     [][]string `json:"rows"`
	Count    int        `json:"count"`
}

// ReportResult is the per-pass-type breakdown of a ledger. Columns applies
// to every group's rows. Unknown counts rows whose pass type is outside
// the roster; they are excluded from the groups but not hidden entirely.
type ReportResult struct {
	Columns []string `json:"columns"`
	Groups  []Group  `json:"groups"`
	Unknown int      `json:"unknown"`
	Total   int      `json:"total"`
}

// Report groups ledger rows by pass type. Every roster entry gets a group,
// zero-count ones included. Pure read path; the ledger is not modified.
func Report(l *Ledger, passTypes []string) ReportResult {
	res := ReportResult{Columns: append([]string(nil), l.Columns...), Total: l.Len()}

	known := make(map[string]int, len(passTypes))
	for i, pt := range passTypes {
		known[pt] = i
		res.Groups = append(res.Groups, Group{PassType: pt, Rows: [][]string{}})
	}

	for _, row := range l.Rows {
		pt := l.cell(row, ColPassType)
		i, ok := known[pt]
		if !ok {
			res.Unknown++
			continue
		}
		res.Groups[i].Rows = append(res.Groups[i].Rows, row)
		res.Groups[i].Count++
	}
	return res
}
