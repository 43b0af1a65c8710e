package query

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	MaxSearchLength  = 100
	maxTagLength     = 50
	defaultDirection = Desc
)

// providerUserID matches prefixed identity-provider subjects such as user_2abcXYZ.
var providerUserID = regexp.MustCompile(`^[a-z]+_[A-Za-z0-9]{8,64}$`)

// Parser turns raw query parameters into a ParseResult. It never fails: invalid
// values are replaced by defaults and recorded in ParseResult.Errors.
type Parser struct {
	DefaultLimit    int
	MaxLimit        int
	MaxSearchLength int
}

var defaultParser = Parser{DefaultLimit: DefaultLimit, MaxLimit: MaxLimit, MaxSearchLength: MaxSearchLength}

func Parse(values url.Values, schema Schema) ParseResult {
	return defaultParser.Parse(values, schema)
}

func (p Parser) normalized() Parser {
	if p.MaxLimit <= 0 {
		p.MaxLimit = MaxLimit
	}
	if p.DefaultLimit <= 0 || p.DefaultLimit > p.MaxLimit {
		p.DefaultLimit = min(DefaultLimit, p.MaxLimit)
	}
	if p.MaxSearchLength <= 0 {
		p.MaxSearchLength = MaxSearchLength
	}
	return p
}

func (p Parser) Parse(values url.Values, schema Schema) ParseResult {
	p = p.normalized()
	res := ParseResult{
		Sort:       Sort{Field: schema.DefaultSort, Direction: defaultDirection},
		Pagination: Pagination{Page: 1, Limit: p.DefaultLimit},
	}
	fail := func(code, field, msg, raw string) {
		res.Errors = append(res.Errors, ValidationError{Code: code, Field: field, Message: msg, Value: raw})
	}

	if raw, ok := first(values, "page"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fail(CodeInvalidPage, "page", "page must be a positive integer", raw)
		} else {
			res.Pagination.Page = n
		}
	}

	if raw, ok := first(values, "limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > p.MaxLimit {
			fail(CodeInvalidLimit, "limit", fmt.Sprintf("limit must be an integer between 1 and %d", p.MaxLimit), raw)
		} else {
			res.Pagination.Limit = n
		}
	}
	if maxPage := MaxPage(res.Pagination.Limit); res.Pagination.Page > maxPage {
		fail(CodeInvalidPage, "page", fmt.Sprintf("page must not exceed %d", maxPage), strconv.Itoa(res.Pagination.Page))
		res.Pagination.Page = 1
	}

	if raw, ok := first(values, "sort_by"); ok {
		if schema.Sortable(raw) {
			res.Sort.Field = raw
		} else {
			fail(CodeInvalidSortField, "sort_by", fmt.Sprintf("cannot sort %s by %q", schema.Table, raw), raw)
		}
	}

	if raw, ok := first(values, "sort_order"); ok {
		switch Direction(strings.ToLower(raw)) {
		case Asc:
			res.Sort.Direction = Asc
		case Desc:
			res.Sort.Direction = Desc
		default:
			fail(CodeInvalidSortOrder, "sort_order", "sort_order must be asc or desc", raw)
		}
	}

	for _, field := range []string{"date_from", "date_to"} {
		raw, ok := first(values, field)
		if !ok {
			continue
		}
		d, err := parseDate(raw)
		if err != nil {
			fail(CodeInvalidDate, field, "expected a date formatted as YYYY-MM-DD", raw)
			continue
		}
		if field == "date_from" {
			res.Filters.DateFrom = &d
		} else {
			res.Filters.DateTo = &d
		}
	}
	if f, t := res.Filters.DateFrom, res.Filters.DateTo; f != nil && t != nil && f.After(*t) {
		fail(CodeInvalidDateRange, "date_from", "date_from is after date_to", f.Format(dateLayout)+".."+t.Format(dateLayout))
	}

	if raw, ok := first(values, FilterStatus); ok {
		switch v := strings.ToLower(raw); v {
		case StatusAll, StatusActive, StatusRevoked:
			res.Filters.Status = v
		default:
			fail(CodeInvalidStatus, FilterStatus, "status must be one of all, active, revoked", raw)
		}
	}

	if raw, ok := first(values, FilterEventStatus); ok {
		switch v := strings.ToLower(raw); v {
		case EventUpcoming, EventOngoing, EventEnded:
			res.Filters.EventStatus = v
		default:
			fail(CodeInvalidStatus, FilterEventStatus, "event_status must be one of upcoming, ongoing, ended", raw)
		}
	}

	if raw, ok := first(values, "search"); ok {
		res.Filters.Search = SanitizeSearch(raw, p.MaxSearchLength)
	}

	if raw, ok := first(values, FilterTag); ok {
		res.Filters.Tag = truncate(stripControl(raw), maxTagLength)
	}

	for _, field := range []string{FilterEventID, FilterCreatedBy} {
		raw, ok := first(values, field)
		if !ok {
			continue
		}
		if field == FilterCreatedBy && providerUserID.MatchString(raw) {
			res.Filters.CreatedBy = raw
			continue
		}
		id, valid := canonicalUUID(raw)
		if !valid {
			msg := field + " must be a UUID"
			if field == FilterCreatedBy {
				msg = field + " must be a UUID or a user id"
			}
			fail(CodeInvalidIDFormat, field, msg, raw)
			continue
		}
		if field == FilterEventID {
			res.Filters.EventID = id
		} else {
			res.Filters.CreatedBy = id
		}
	}

	return res
}

// Encode renders the normalized result as query parameters. Parsing the output
// again yields the same filters, sort and pagination.
func (r ParseResult) Encode() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(r.Pagination.Page))
	v.Set("limit", strconv.Itoa(r.Pagination.Limit))
	if r.Sort.Field != "" {
		v.Set("sort_by", r.Sort.Field)
	}
	if r.Sort.Direction != "" {
		v.Set("sort_order", string(r.Sort.Direction))
	}
	r.Filters.encode(v)
	return v
}

// Signature is a stable key for the filter set alone, ignoring sort and pagination.
func (f Filters) Signature() string {
	v := url.Values{}
	f.encode(v)
	return v.Encode()
}

func (f Filters) encode(v url.Values) {
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("search", f.Search)
	set(FilterTag, f.Tag)
	set(FilterCreatedBy, f.CreatedBy)
	set(FilterEventID, f.EventID)
	set(FilterStatus, f.Status)
	set(FilterEventStatus, f.EventStatus)
	if f.DateFrom != nil {
		v.Set("date_from", f.DateFrom.Format(dateLayout))
	}
	if f.DateTo != nil {
		v.Set("date_to", f.DateTo.Format(dateLayout))
	}
}

// SanitizeSearch removes LIKE wildcard and escape characters, collapses
// whitespace and bounds the length. It never rejects input.
func SanitizeSearch(raw string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '%', '_', '\\', '*':
			return -1
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return truncate(cleaned, maxLen)
}

func first(values url.Values, key string) (string, bool) {
	for _, v := range values[key] {
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// MaxPage is the largest page whose offset fits in an int for the given limit.
func MaxPage(limit int) int {
	if limit < 1 {
		limit = 1
	}
	return (math.MaxInt-1)/limit + 1
}

func canonicalUUID(raw string) (string, bool) {
	if len(raw) != 36 {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n])
	}
	return strings.TrimSpace(s)
}
