package extract

// Dam names the list extractors anchor on
var (
	IstanbulDams = []string{"Ömerli", "Darlık", "Elmalı", "Terkos", "Alibey", "Büyükçekmece", "Sazlıdere", "Istrancalar", "Kazandere", "Pabuçdere"}
	IzmirDams    = []string{"Tahtalı", "Balçova", "Gördes", "Ürkmez", "Güzelhisar", "Alaçatı"}
)

const (
	istanbulWindow = 200
	izmirWindow    = 150
)

var istanbulGeneralChain = []Strategy{
	Regex(`(?i)doluluk[^\d]{0,40}(\d{1,3}[.,]\d{1,2})\s*%`),
	Regex(`(?i)doluluk[^\d%]{0,40}%\s*(\d{1,3}[.,]\d{1,2})`),
	Regex(`(\d{1,2}[.,]\d{2})`),
}

// The ASKİ page stores the total rate as label text and as a data-percent attribute.
// Labels arrive as {"total":"13.05 %","active":"1.66 %","markup":"..."}.
var ankaraGeneralChain = []Strategy{
	JSONField("total"),
	Within("markup", Attr("#BarajOrani1", "data-percent")),
	Within("markup", Regex(`id="BarajOrani1"[^>]*data-percent="(\d+(?:[.,]\d+)?)"`)),
}

// IstanbulGeneral reads the city-wide rate from İSKİ visible text
func IstanbulGeneral(text string) (float64, bool) {
	return Percentage(text, istanbulGeneralChain...)
}

// AnkaraGeneral reads the city-wide rate from the ASKİ label payload or page markup
func AnkaraGeneral(payload string) (float64, bool) {
	return Percentage(payload, ankaraGeneralChain...)
}

// GenericGeneral is used for pages without a dedicated variant
func GenericGeneral(text string) (float64, bool) {
	return Percentage(text, Regex(`(\d{1,2}[.,]\d{2})`))
}

// IstanbulDetails reads per-dam values from the full İSKİ document markup. Names not found
// in raw markup are searched again in the visible text of the same document.
func IstanbulDetails(markup string) []Match {
	found := Anchored(markup, IstanbulDams, istanbulWindow)
	if rest := missing(IstanbulDams, found); len(rest) > 0 {
		found = append(found, Anchored(VisibleText(markup), rest, istanbulWindow)...)
	}
	return Dedup(found)
}

// IzmirDetails reads per-dam values from İZSU visible text
func IzmirDetails(text string) []Match {
	found := Anchored(text, IzmirDams, izmirWindow)
	for i := range found {
		found[i].Name += " Barajı"
	}
	return found
}
