package naming

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"golang.org/x/text/language"
)

// renderTemplate renders a folder template against a timestamp.
// Templates are literal text with `{:...}` groups holding strftime
// directives, e.g. "{:%Y/%m/%d}" or "albums/{:%Y}". Doubled braces
// escape literal braces. Group names before the colon are ignored, so
// "{0:%Y}" works too.
func renderTemplate(tmpl string, t time.Time, names *localeNames) string {
	var b strings.Builder

	for i := 0; i < len(tmpl); {
		switch {
		case strings.HasPrefix(tmpl[i:], "{{"):
			b.WriteByte('{')

			i += 2

		case strings.HasPrefix(tmpl[i:], "}}"):
			b.WriteByte('}')

			i += 2

		case tmpl[i] == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				// Unbalanced group, keep the rest literal.
				b.WriteString(tmpl[i:])

				return b.String()
			}

			spec := tmpl[i+1 : i+end]
			if colon := strings.IndexByte(spec, ':'); colon >= 0 {
				spec = spec[colon+1:]
			}

			b.WriteString(strftime.Format(localizeSpec(spec, t, names), t))

			i += end + 1

		default:
			b.WriteByte(tmpl[i])

			i++
		}
	}

	return b.String()
}

// ValidateTemplate reports whether a folder template is well-formed:
// every `{` opens a closed group or is doubled. Unknown strftime
// directives are not an error; they render literally.
func ValidateTemplate(tmpl string) error {
	if strings.EqualFold(tmpl, FolderNone) {
		return nil
	}

	for i := 0; i < len(tmpl); {
		switch {
		case strings.HasPrefix(tmpl[i:], "{{"), strings.HasPrefix(tmpl[i:], "}}"):
			i += 2

		case tmpl[i] == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return fmt.Errorf("naming: folder template %q has an unclosed brace", tmpl)
			}

			i += end + 1

		case tmpl[i] == '}':
			return fmt.Errorf("naming: folder template %q has an unmatched closing brace", tmpl)

		default:
			i++
		}
	}

	return nil
}

// localizeSpec substitutes the locale-sensitive strftime directives
// (%a, %A, %b, %B) with the table's names before the English renderer
// sees the format string.
func localizeSpec(spec string, t time.Time, names *localeNames) string {
	if names == nil {
		return spec
	}

	var b strings.Builder

	for i := 0; i < len(spec); i++ {
		if spec[i] != '%' || i+1 >= len(spec) {
			b.WriteByte(spec[i])

			continue
		}

		switch spec[i+1] {
		case 'a':
			b.WriteString(names.daysAbbrev[t.Weekday()])
		case 'A':
			b.WriteString(names.days[t.Weekday()])
		case 'b', 'h':
			b.WriteString(names.monthsAbbrev[t.Month()-1])
		case 'B':
			b.WriteString(names.months[t.Month()-1])
		default:
			b.WriteByte(spec[i])
			b.WriteByte(spec[i+1])
		}

		i++
	}

	return b.String()
}

// localeNames carries the month and weekday names for one language.
// Day arrays are indexed by time.Weekday, Sunday first.
type localeNames struct {
	months       [12]string
	monthsAbbrev [12]string
	days         [7]string
	daysAbbrev   [7]string
}

// localeTags lists the languages with built-in name tables, in matcher
// order. English is the implicit fallback: go-strftime's own names.
var localeTags = []language.Tag{
	language.German,
	language.Spanish,
	language.French,
	language.Italian,
	language.Dutch,
	language.Portuguese,
}

var localeTables = []*localeNames{
	{
		months:       [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
		monthsAbbrev: [12]string{"Jan", "Feb", "Mär", "Apr", "Mai", "Jun", "Jul", "Aug", "Sep", "Okt", "Nov", "Dez"},
		days:         [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"},
		daysAbbrev:   [7]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"},
	},
	{
		months:       [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		monthsAbbrev: [12]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sep", "oct", "nov", "dic"},
		days:         [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"},
		daysAbbrev:   [7]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"},
	},
	{
		months:       [12]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		monthsAbbrev: [12]string{"janv.", "févr.", "mars", "avr.", "mai", "juin", "juil.", "août", "sept.", "oct.", "nov.", "déc."},
		days:         [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"},
		daysAbbrev:   [7]string{"dim.", "lun.", "mar.", "mer.", "jeu.", "ven.", "sam."},
	},
	{
		months:       [12]string{"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno", "luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"},
		monthsAbbrev: [12]string{"gen", "feb", "mar", "apr", "mag", "giu", "lug", "ago", "set", "ott", "nov", "dic"},
		days:         [7]string{"domenica", "lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "sabato"},
		daysAbbrev:   [7]string{"dom", "lun", "mar", "mer", "gio", "ven", "sab"},
	},
	{
		months:       [12]string{"januari", "februari", "maart", "april", "mei", "juni", "juli", "augustus", "september", "oktober", "november", "december"},
		monthsAbbrev: [12]string{"jan", "feb", "mrt", "apr", "mei", "jun", "jul", "aug", "sep", "okt", "nov", "dec"},
		days:         [7]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"},
		daysAbbrev:   [7]string{"zo", "ma", "di", "wo", "do", "vr", "za"},
	},
	{
		months:       [12]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
		monthsAbbrev: [12]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"},
		days:         [7]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"},
		daysAbbrev:   [7]string{"dom", "seg", "ter", "qua", "qui", "sex", "sáb"},
	},
}

var localeMatcher = language.NewMatcher(localeTags)

// namesForLocale resolves a locale string to a name table. Accepts
// BCP 47 tags and POSIX locale strings like "de_DE.UTF-8". nil means
// English.
func namesForLocale(locale string) *localeNames {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}

	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || strings.EqualFold(locale, "C") || strings.EqualFold(locale, "POSIX") {
		return nil
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return nil
	}

	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return nil
	}

	return localeTables[idx]
}
