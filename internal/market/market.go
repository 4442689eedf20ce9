package market

import (
	"fmt"
	"sort"
	"strings"
)

// Info describes one market viewpoint: the country whose perspective
// prices are requested from. Locale and timezone are what the airline
// sites expect for that country; Currency is what their APIs quote in.
type Info struct {
	Name     string `json:"name"`
	Code     string `json:"code"` // ISO 3166-1 alpha-2
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
	Timezone string `json:"timezone"`
}

// registry maps lower-cased market names to their country data.
// Pure data: fetchers look up what they need per market instead of branching.
var registry = map[string]Info{
	// Europe
	"poland":         {Name: "poland", Code: "PL", Currency: "PLN", Locale: "pl-PL", Timezone: "Europe/Warsaw"},
	"germany":        {Name: "germany", Code: "DE", Currency: "EUR", Locale: "de-DE", Timezone: "Europe/Berlin"},
	"united_kingdom": {Name: "united_kingdom", Code: "GB", Currency: "GBP", Locale: "en-GB", Timezone: "Europe/London"},
	"france":         {Name: "france", Code: "FR", Currency: "EUR", Locale: "fr-FR", Timezone: "Europe/Paris"},
	"spain":          {Name: "spain", Code: "ES", Currency: "EUR", Locale: "es-ES", Timezone: "Europe/Madrid"},
	"italy":          {Name: "italy", Code: "IT", Currency: "EUR", Locale: "it-IT", Timezone: "Europe/Rome"},
	"netherlands":    {Name: "netherlands", Code: "NL", Currency: "EUR", Locale: "nl-NL", Timezone: "Europe/Amsterdam"},
	"belgium":        {Name: "belgium", Code: "BE", Currency: "EUR", Locale: "nl-BE", Timezone: "Europe/Brussels"},
	"austria":        {Name: "austria", Code: "AT", Currency: "EUR", Locale: "de-AT", Timezone: "Europe/Vienna"},
	"switzerland":    {Name: "switzerland", Code: "CH", Currency: "CHF", Locale: "de-CH", Timezone: "Europe/Zurich"},
	"sweden":         {Name: "sweden", Code: "SE", Currency: "SEK", Locale: "sv-SE", Timezone: "Europe/Stockholm"},
	"norway":         {Name: "norway", Code: "NO", Currency: "NOK", Locale: "nb-NO", Timezone: "Europe/Oslo"},
	"denmark":        {Name: "denmark", Code: "DK", Currency: "DKK", Locale: "da-DK", Timezone: "Europe/Copenhagen"},
	"finland":        {Name: "finland", Code: "FI", Currency: "EUR", Locale: "fi-FI", Timezone: "Europe/Helsinki"},
	"portugal":       {Name: "portugal", Code: "PT", Currency: "EUR", Locale: "pt-PT", Timezone: "Europe/Lisbon"},
	"greece":         {Name: "greece", Code: "GR", Currency: "EUR", Locale: "el-GR", Timezone: "Europe/Athens"},
	"czech":          {Name: "czech", Code: "CZ", Currency: "CZK", Locale: "cs-CZ", Timezone: "Europe/Prague"},
	"hungary":        {Name: "hungary", Code: "HU", Currency: "HUF", Locale: "hu-HU", Timezone: "Europe/Budapest"},
	"romania":        {Name: "romania", Code: "RO", Currency: "RON", Locale: "ro-RO", Timezone: "Europe/Bucharest"},
	"bulgaria":       {Name: "bulgaria", Code: "BG", Currency: "BGN", Locale: "bg-BG", Timezone: "Europe/Sofia"},
	"croatia":        {Name: "croatia", Code: "HR", Currency: "EUR", Locale: "hr-HR", Timezone: "Europe/Zagreb"},
	"slovakia":       {Name: "slovakia", Code: "SK", Currency: "EUR", Locale: "sk-SK", Timezone: "Europe/Bratislava"},
	"ireland":        {Name: "ireland", Code: "IE", Currency: "EUR", Locale: "en-IE", Timezone: "Europe/Dublin"},
	"ukraine":        {Name: "ukraine", Code: "UA", Currency: "UAH", Locale: "uk-UA", Timezone: "Europe/Kyiv"},
	"albania":        {Name: "albania", Code: "AL", Currency: "ALL", Locale: "sq-AL", Timezone: "Europe/Tirane"},
	"turkey":         {Name: "turkey", Code: "TR", Currency: "TRY", Locale: "tr-TR", Timezone: "Europe/Istanbul"},
	// Americas
	"usa":       {Name: "usa", Code: "US", Currency: "USD", Locale: "en-US", Timezone: "America/New_York"},
	"canada":    {Name: "canada", Code: "CA", Currency: "CAD", Locale: "en-CA", Timezone: "America/Toronto"},
	"mexico":    {Name: "mexico", Code: "MX", Currency: "MXN", Locale: "es-MX", Timezone: "America/Mexico_City"},
	"brazil":    {Name: "brazil", Code: "BR", Currency: "BRL", Locale: "pt-BR", Timezone: "America/Sao_Paulo"},
	"argentina": {Name: "argentina", Code: "AR", Currency: "ARS", Locale: "es-AR", Timezone: "America/Argentina/Buenos_Aires"},
	// Asia & Middle East
	"japan":        {Name: "japan", Code: "JP", Currency: "JPY", Locale: "ja-JP", Timezone: "Asia/Tokyo"},
	"south_korea":  {Name: "south_korea", Code: "KR", Currency: "KRW", Locale: "ko-KR", Timezone: "Asia/Seoul"},
	"china":        {Name: "china", Code: "CN", Currency: "CNY", Locale: "zh-CN", Timezone: "Asia/Shanghai"},
	"india":        {Name: "india", Code: "IN", Currency: "INR", Locale: "en-IN", Timezone: "Asia/Kolkata"},
	"thailand":     {Name: "thailand", Code: "TH", Currency: "THB", Locale: "th-TH", Timezone: "Asia/Bangkok"},
	"singapore":    {Name: "singapore", Code: "SG", Currency: "SGD", Locale: "en-SG", Timezone: "Asia/Singapore"},
	"malaysia":     {Name: "malaysia", Code: "MY", Currency: "MYR", Locale: "ms-MY", Timezone: "Asia/Kuala_Lumpur"},
	"indonesia":    {Name: "indonesia", Code: "ID", Currency: "IDR", Locale: "id-ID", Timezone: "Asia/Jakarta"},
	"vietnam":      {Name: "vietnam", Code: "VN", Currency: "VND", Locale: "vi-VN", Timezone: "Asia/Ho_Chi_Minh"},
	"philippines":  {Name: "philippines", Code: "PH", Currency: "PHP", Locale: "en-PH", Timezone: "Asia/Manila"},
	"uae":          {Name: "uae", Code: "AE", Currency: "AED", Locale: "ar-AE", Timezone: "Asia/Dubai"},
	"israel":       {Name: "israel", Code: "IL", Currency: "ILS", Locale: "he-IL", Timezone: "Asia/Jerusalem"},
	"saudi_arabia": {Name: "saudi_arabia", Code: "SA", Currency: "SAR", Locale: "ar-SA", Timezone: "Asia/Riyadh"},
	// Oceania & Africa
	"australia":    {Name: "australia", Code: "AU", Currency: "AUD", Locale: "en-AU", Timezone: "Australia/Sydney"},
	"new_zealand":  {Name: "new_zealand", Code: "NZ", Currency: "NZD", Locale: "en-NZ", Timezone: "Pacific/Auckland"},
	"south_africa": {Name: "south_africa", Code: "ZA", Currency: "ZAR", Locale: "en-ZA", Timezone: "Africa/Johannesburg"},
	"egypt":        {Name: "egypt", Code: "EG", Currency: "EGP", Locale: "ar-EG", Timezone: "Africa/Cairo"},
	"morocco":      {Name: "morocco", Code: "MA", Currency: "MAD", Locale: "ar-MA", Timezone: "Africa/Casablanca"},
}

// Lookup resolves a market name to its country data. The error is a
// configuration error for that single market; callers keep going with
// the other markets.
func Lookup(name string) (Info, error) {
	m, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Info{}, fmt.Errorf("unknown market %q", name)
	}
	return m, nil
}

// Names returns all known market names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
