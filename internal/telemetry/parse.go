package telemetry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	channelSeparator = "|+|"
	fieldSeparator   = "^"

	downstreamFieldCount = 10
	upstreamFieldCount   = 8
)

// The MB8600 firmware under-reports SNR on the OFDM PLC channel by a
// constant factor when the reading drops below 20 dB. Empirical
// workaround; not tunable.
const (
	ofdmPLCModulation = "OFDM PLC"
	snrBugThreshold   = 20.0
	snrBugFactor      = 2.5
)

var uptimePattern = regexp.MustCompile(`(?:(\d+)\s*days\s*)?(?:(\d{2})h:)?(?:(\d{2})m:)?(?:(\d{2})s)?`)

// ParseError describes a malformed telemetry payload. It aborts the
// current scrape cycle but never the poll loop.
type ParseError struct {
	What  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %v", e.What, e.Input, e.Err)
	}
	return fmt.Sprintf("parse %s %q", e.What, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseDownstream decodes the caret-delimited downstream channel payload.
// Segment layout: lockStatus^_^modulation^id^freqMHz^power^snr^corrected^
// uncorrected^_ with the two underscored fields ignored.
func ParseDownstream(payload string) ([]DownstreamChannel, error) {
	var channels []DownstreamChannel
	for _, segment := range strings.Split(payload, channelSeparator) {
		fields := strings.Split(segment, fieldSeparator)
		if len(fields) != downstreamFieldCount {
			return nil, &ParseError{
				What:  "downstream channel",
				Input: segment,
				Err:   fmt.Errorf("got %d fields, want %d", len(fields), downstreamFieldCount),
			}
		}

		modulation := fields[2]
		id, err := parseInt("downstream channel id", fields[3])
		if err != nil {
			return nil, err
		}
		freqMHz, err := parseFloat("downstream frequency", fields[4])
		if err != nil {
			return nil, err
		}
		power, err := parseFloat("downstream power", fields[5])
		if err != nil {
			return nil, err
		}
		snr, err := parseFloat("downstream snr", fields[6])
		if err != nil {
			return nil, err
		}
		correcteds, err := parseInt("downstream correcteds", fields[7])
		if err != nil {
			return nil, err
		}
		uncorrecteds, err := parseInt("downstream uncorrecteds", fields[8])
		if err != nil {
			return nil, err
		}

		if modulation == ofdmPLCModulation && snr < snrBugThreshold {
			snr *= snrBugFactor
		}

		channels = append(channels, DownstreamChannel{
			ID:           id,
			FrequencyHz:  freqMHz * 1e6,
			Modulation:   modulation,
			PowerDBmV:    power,
			SNRDb:        snr,
			Correcteds:   correcteds,
			Uncorrecteds: uncorrecteds,
		})
	}
	return channels, nil
}

// ParseUpstream decodes the caret-delimited upstream channel payload.
// Segment layout: lockStatus^_^modulation^id^widthMHz^freqMHz^power^_.
// Width lands on a kHz scale (x1000), unlike the Hz-scale frequencies;
// the sink schema expects exactly that.
func ParseUpstream(payload string) ([]UpstreamChannel, error) {
	var channels []UpstreamChannel
	for _, segment := range strings.Split(payload, channelSeparator) {
		fields := strings.Split(segment, fieldSeparator)
		if len(fields) != upstreamFieldCount {
			return nil, &ParseError{
				What:  "upstream channel",
				Input: segment,
				Err:   fmt.Errorf("got %d fields, want %d", len(fields), upstreamFieldCount),
			}
		}

		modulation := fields[2]
		id, err := parseInt("upstream channel id", fields[3])
		if err != nil {
			return nil, err
		}
		widthMHz, err := parseFloat("upstream width", fields[4])
		if err != nil {
			return nil, err
		}
		freqMHz, err := parseFloat("upstream frequency", fields[5])
		if err != nil {
			return nil, err
		}
		power, err := parseFloat("upstream power", fields[6])
		if err != nil {
			return nil, err
		}

		channels = append(channels, UpstreamChannel{
			ID:          id,
			FrequencyHz: freqMHz * 1e6,
			Modulation:  modulation,
			PowerDBmV:   power,
			WidthHz:     widthMHz * 1e3,
		})
	}
	return channels, nil
}

// ParseUptime converts the modem's "[D days ][HHh:][MMm:][SSs]" uptime
// string to seconds. Absent groups count as zero; a string yielding no
// groups at all is a parse error.
func ParseUptime(uptime string) (int, error) {
	groups := uptimePattern.FindStringSubmatch(uptime)
	if groups == nil {
		return 0, &ParseError{What: "uptime", Input: uptime}
	}

	total := 0
	empty := true
	for i, unit := range []int{86400, 3600, 60, 1} {
		g := groups[i+1]
		if g == "" {
			continue
		}
		empty = false
		n, err := strconv.Atoi(g)
		if err != nil {
			return 0, &ParseError{What: "uptime", Input: uptime, Err: err}
		}
		total += n * unit
	}
	if empty {
		return 0, &ParseError{What: "uptime", Input: uptime, Err: fmt.Errorf("no time components found")}
	}
	return total, nil
}

func parseInt(what, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{What: what, Input: s, Err: err}
	}
	return n, nil
}

func parseFloat(what, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ParseError{What: what, Input: s, Err: err}
	}
	return f, nil
}
