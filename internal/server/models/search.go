package models

import "time"

// AccountSummary is the projection returned by paged account listings.
type AccountSummary struct {
	ID         string
	StudyID    string
	Email      string
	Phone      *Phone
	ExternalID string
	CreatedOn  time.Time
	Status     AccountStatus
}

// AccountSummarySearch is the filter set for paged account listings. Zero
// values mean "no filter". StartTime and EndTime are inclusive.
type AccountSummarySearch struct {
	Offset      int
	PageSize    int
	EmailFilter string
	PhoneFilter string
	StartTime   time.Time
	EndTime     time.Time
	Language    string
	// AllOfGroups requires every named data group to be present;
	// NoneOfGroups requires every named data group to be absent.
	AllOfGroups  []string
	NoneOfGroups []string
}

// PagedAccountSummaries is one page of summaries plus the total count of
// matching rows and the echoed search parameters.
type PagedAccountSummaries struct {
	Items  []AccountSummary
	Total  int
	Search AccountSummarySearch
}
