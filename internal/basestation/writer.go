package basestation

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
)

// BaseStation message types
const (
	MessageSEL = "SEL" // Selection Change
	MessageID  = "ID"  // New ID
	MessageAIR = "AIR" // New Aircraft
	MessageSTA = "STA" // Status Change
	MessageCLK = "CLK" // Click
	MessageMSG = "MSG" // Transmission
)

// BaseStation transmission types
const (
	TransmissionESIdentification = 1 // Extended Squitter Aircraft ID and Category
	TransmissionESSurface        = 2 // Extended Squitter Surface Position
	TransmissionESAirborne       = 3 // Extended Squitter Airborne Position
	TransmissionESVelocity       = 4 // Extended Squitter Airborne Velocity
	TransmissionSurveillanceAlt  = 5 // Surveillance Alt, Squawk change
	TransmissionSurveillanceID   = 6 // Surveillance ID change
	TransmissionAirToAir         = 7 // Air-to-Air Message
	TransmissionAllCall          = 8 // All Call Reply
)

// Line is one SBS-1 record before CSV formatting
type Line struct {
	MessageType      string
	TransmissionType int
	SessionID        int
	AircraftID       int
	HexIdent         string
	FlightID         int
	Generated        time.Time
	Logged           time.Time
	Callsign         string
	Altitude         string
	GroundSpeed      string
	Track            string
	Latitude         string
	Longitude        string
	VerticalRate     string
	Squawk           string
	Alert            string
	Emergency        string
	SPI              string
	IsOnGround       string
}

// Writer writes decoded messages as SBS-1 CSV lines
type Writer struct {
	out    io.Writer
	logger *logrus.Logger
	now    func() time.Time

	mutex     sync.Mutex
	sessionID int
	aircraft  map[uint32]int
	written   uint64
}

// NewWriter creates a writer emitting to out, typically a logging.Rotator
func NewWriter(out io.Writer, logger *logrus.Logger) *Writer {
	return &Writer{
		out:       out,
		logger:    logger,
		now:       time.Now,
		sessionID: 1,
		aircraft:  make(map[uint32]int),
	}
}

// WriteMessage writes msg if it maps to an SBS transmission type. Messages
// without an SBS equivalent are skipped silently.
func (w *Writer) WriteMessage(msg *adsb.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	line := w.convert(msg)
	if line == nil {
		w.logger.WithFields(logrus.Fields{
			"df":      msg.Format.String(),
			"me_type": msg.METype,
		}).Debug("No SBS mapping for message")
		return nil
	}

	if _, err := io.WriteString(w.out, FormatCSV(line)+"\n"); err != nil {
		return fmt.Errorf("failed to write SBS line: %w", err)
	}
	w.written++
	return nil
}

// Written returns the number of lines written so far
func (w *Writer) Written() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.written
}

// aircraftID hands out a stable per-session number for each address
func (w *Writer) aircraftID(icao uint32) int {
	id, ok := w.aircraft[icao]
	if !ok {
		id = len(w.aircraft) + 1
		w.aircraft[icao] = id
	}
	return id
}

func (w *Writer) convert(msg *adsb.Message) *Line {
	id := w.aircraftID(msg.ICAO)
	line := &Line{
		MessageType: MessageMSG,
		SessionID:   w.sessionID,
		AircraftID:  id,
		FlightID:    id,
		HexIdent:    msg.ICAOHex(),
		Generated:   msg.Timestamp,
		Logged:      w.now(),
	}

	switch msg.Format {
	case adsb.DFSurveillanceAltitude, adsb.DFCommBAltitude:
		line.TransmissionType = TransmissionSurveillanceAlt
		setAltitude(line, msg)

	case adsb.DFSurveillanceIdentity, adsb.DFCommBIdentity:
		line.TransmissionType = TransmissionSurveillanceID
		if msg.HasSquawk {
			line.Squawk = fmt.Sprintf("%04d", msg.Squawk)
		}

	case adsb.DFShortAirAir, adsb.DFLongAirAir:
		line.TransmissionType = TransmissionAirToAir
		setAltitude(line, msg)

	case adsb.DFAllCallReply:
		line.TransmissionType = TransmissionAllCall

	case adsb.DFExtendedSquitter:
		switch {
		case msg.METype >= 1 && msg.METype <= 4:
			line.TransmissionType = TransmissionESIdentification
			line.Callsign = adsb.TrimCallsign(msg.Callsign)

		case msg.METype >= 9 && msg.METype <= 18:
			line.TransmissionType = TransmissionESAirborne
			setAltitude(line, msg)
			if msg.Position != nil {
				line.Latitude = strconv.FormatFloat(msg.Position.Latitude, 'f', 5, 64)
				line.Longitude = strconv.FormatFloat(msg.Position.Longitude, 'f', 5, 64)
			}
			line.IsOnGround = "0"

		case msg.METype == 19 && msg.Velocity != nil:
			line.TransmissionType = TransmissionESVelocity
			v := msg.Velocity
			if v.Subtype == 1 || v.Subtype == 2 {
				line.GroundSpeed = strconv.Itoa(int(v.Speed + 0.5))
				if v.VertRateRaw != 0 {
					line.VerticalRate = strconv.Itoa(v.VerticalRate)
				}
			}
			if v.HeadingValid {
				line.Track = strconv.FormatFloat(v.Track, 'f', 1, 64)
			}

		default:
			return nil
		}

	default:
		return nil
	}

	return line
}

func setAltitude(line *Line, msg *adsb.Message) {
	if msg.HasAltitude() {
		line.Altitude = strconv.Itoa(msg.Altitude)
	}
}

// FormatCSV renders the 22 SBS-1 fields
func FormatCSV(l *Line) string {
	fields := []string{
		l.MessageType,
		strconv.Itoa(l.TransmissionType),
		strconv.Itoa(l.SessionID),
		strconv.Itoa(l.AircraftID),
		l.HexIdent,
		strconv.Itoa(l.FlightID),
		l.Generated.Format("2006/01/02"),
		l.Generated.Format("15:04:05.000"),
		l.Logged.Format("2006/01/02"),
		l.Logged.Format("15:04:05.000"),
		l.Callsign,
		l.Altitude,
		l.GroundSpeed,
		l.Track,
		l.Latitude,
		l.Longitude,
		l.VerticalRate,
		l.Squawk,
		l.Alert,
		l.Emergency,
		l.SPI,
		l.IsOnGround,
	}
	return strings.Join(fields, ",")
}
