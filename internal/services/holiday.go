package services

import (
	"sort"
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/be"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/es"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/pl"
	"github.com/rickar/cal/v2/us"

	"github.com/huangang/opsboard/internal/period"
)

const (
	countryChina    = "CN"
	countryWeekdays = "NONE"
)

type CountryInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type countryCalendar struct {
	name     string
	holidays []*cal.Holiday
}

// Countries where the warehouses run, keyed by ISO code.
var countryCalendars = map[string]countryCalendar{
	"US": {"United States", us.Holidays},
	"GB": {"United Kingdom", gb.Holidays},
	"IE": {"Ireland", ie.Holidays},
	"DE": {"Germany", de.Holidays},
	"FR": {"France", fr.Holidays},
	"NL": {"Netherlands", nl.Holidays},
	"BE": {"Belgium", be.Holidays},
	"ES": {"Spain", es.Holidays},
	"IT": {"Italy", it.Holidays},
	"PL": {"Poland", pl.Holidays},
	"CA": {"Canada", ca.Holidays},
	"AU": {"Australia", au.HolidaysNSW},
}

// HolidayService counts working days for target comparisons.
type HolidayService struct {
	calendars map[string]*cal.BusinessCalendar
}

func NewHolidayService() *HolidayService {
	s := &HolidayService{calendars: make(map[string]*cal.BusinessCalendar)}
	for code, cc := range countryCalendars {
		c := cal.NewBusinessCalendar()
		c.Name = cc.name
		c.AddHoliday(cc.holidays...)
		s.calendars[code] = c
	}
	return s
}

func (s *HolidayService) IsWorkday(t time.Time, countryCode string) bool {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if code == countryChina {
		return s.isWorkdayChina(t)
	}

	c, ok := s.calendars[code]
	if !ok {
		return !cal.IsWeekend(t)
	}
	return c.IsWorkday(t)
}

// China moves weekend days around public holidays, which the lunar
// calendar package tracks per year.
func (s *HolidayService) isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay())

	if holiday != nil {
		return holiday.IsWork()
	}

	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// WorkingDays counts the working days in p for a country. Unknown codes
// count Monday to Friday.
func (s *HolidayService) WorkingDays(p period.Period, countryCode string) int {
	n := 0
	for _, d := range p.Days() {
		if s.IsWorkday(d.In(time.UTC).Add(12*time.Hour), countryCode) {
			n++
		}
	}
	return n
}

func (s *HolidayService) GetSupportedCountries() []CountryInfo {
	countries := make([]CountryInfo, 0, len(countryCalendars)+2)
	for code, cc := range countryCalendars {
		countries = append(countries, CountryInfo{Code: code, Name: cc.name})
	}
	countries = append(countries, CountryInfo{Code: countryChina, Name: "China"})
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	return append(countries, CountryInfo{Code: countryWeekdays, Name: "Weekdays Only (Mon-Fri)"})
}
