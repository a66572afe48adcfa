// Package telemetry defines the parsed DOCSIS status records and the
// decoder for the modem's delimited channel payloads.
package telemetry

// ModemModel is the only device whose response schema is supported.
const ModemModel = "MB8600"

// DownstreamChannel is one bonded downstream DOCSIS channel.
type DownstreamChannel struct {
	ID           int
	FrequencyHz  float64
	Modulation   string
	PowerDBmV    float64
	SNRDb        float64
	Correcteds   int
	Uncorrecteds int
}

// UpstreamChannel is one bonded upstream DOCSIS channel.
type UpstreamChannel struct {
	ID          int
	FrequencyHz float64
	Modulation  string
	PowerDBmV   float64
	WidthHz     float64
}

// StatusRecord is the result of one successful scrape cycle.
type StatusRecord struct {
	ModemName            string
	ConfigFilename       string
	UptimeSeconds        int
	SoftwareVersion      string
	ModemModel           string
	Downstream           []DownstreamChannel
	Upstream             []UpstreamChannel
	ScrapeLatencySeconds float64
	TimestampUTC         float64
}

// Row flattens the record into sink insert arguments, channel lists as
// arrays of tuples matching the table's nested column types.
func (r *StatusRecord) Row() []any {
	down := make([][]any, 0, len(r.Downstream))
	for _, ch := range r.Downstream {
		down = append(down, []any{
			ch.ID,
			ch.FrequencyHz,
			ch.Modulation,
			ch.PowerDBmV,
			ch.SNRDb,
			ch.Correcteds,
			ch.Uncorrecteds,
		})
	}

	up := make([][]any, 0, len(r.Upstream))
	for _, ch := range r.Upstream {
		up = append(up, []any{
			ch.ID,
			ch.FrequencyHz,
			ch.Modulation,
			ch.PowerDBmV,
			ch.WidthHz,
		})
	}

	return []any{
		r.ModemName,
		r.ConfigFilename,
		r.UptimeSeconds,
		r.SoftwareVersion,
		r.ModemModel,
		down,
		up,
		r.ScrapeLatencySeconds,
		r.TimestampUTC,
	}
}
