package search

// Paging is the caller's window: a 1-based start offset and a page size
// applied to every target.
type Paging struct {
	Start    int `json:"start"`
	PageSize int `json:"page_size"`
}

// PageInfo describes neighbouring pages. Targets rarely report reliable
// totals, so HasNext and HasPrevious are estimates: a target that filled
// its page may have more.
type PageInfo struct {
	Start         int  `json:"start"`
	PageSize      int  `json:"page_size"`
	Returned      int  `json:"returned"`
	HasNext       bool `json:"has_next"`
	HasPrevious   bool `json:"has_previous"`
	NextStart     int  `json:"next_start,omitempty"`
	PreviousStart int  `json:"previous_start,omitempty"`
}

func (p Paging) withDefaults(pageSize int) Paging {
	if p.Start < 1 {
		p.Start = 1
	}
	if p.PageSize < 1 {
		p.PageSize = pageSize
	}
	return p
}

// pageInfo computes the window flags. perTarget holds how many records each
// target returned. Every target pages independently from the same start, so
// the previous-page test uses the largest single-target count.
func pageInfo(p Paging, perTarget []int, returned int) PageInfo {
	info := PageInfo{Start: p.Start, PageSize: p.PageSize, Returned: returned}
	widest := 0
	for _, n := range perTarget {
		if n == p.PageSize {
			info.HasNext = true
		}
		widest = max(widest, n)
	}
	if info.HasNext {
		info.NextStart = p.Start + p.PageSize
	}
	if p.Start > 1 && p.Start-widest >= 1 {
		info.HasPrevious = true
		info.PreviousStart = max(p.Start-p.PageSize, 1)
	}
	return info
}
