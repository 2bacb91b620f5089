package spectrometer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

const xmlHeader = "<?xml version='1.0' encoding='UTF-8'?>"

// Option is one protocol parameter of a Start request.
type Option struct {
	Name  string
	Value string
}

func escape(value string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(value))
	return buf.String()
}

// setMessage wraps inner in a Set request. Only the first envelope of a
// request batch carries the XML declaration.
func setMessage(inner string, header bool) string {
	msg := "<Message><Set>" + inner + "</Set></Message>"
	if header {
		return xmlHeader + msg
	}
	return msg
}

func startMessage(protocol string, options []Option) string {
	var buf bytes.Buffer
	buf.WriteString("<Message><Start protocol='")
	buf.WriteString(escape(protocol))
	buf.WriteString("'>")
	for _, opt := range options {
		fmt.Fprintf(&buf, "<Option name='%s' value='%s'/>", escape(opt.Name), escape(opt.Value))
	}
	buf.WriteString("</Start></Message>")
	return buf.String()
}

func abortMessage() string {
	return xmlHeader + "<Message><Abort/></Message>"
}

func shimRequest(kind ShimKind, sampleName, folder string) string {
	return setMessage("<Sample>"+escape(sampleName)+"</Sample>", true) +
		setMessage("<DataFolder><UserFolder>"+escape(folder)+"</UserFolder></DataFolder>", false) +
		startMessage("SHIM", []Option{{Name: "Shim", Value: string(kind)}})
}

func measureRequest(m Measurement, folder string) string {
	solvent := m.Solvent
	if solvent == "" {
		solvent = "None"
	}
	return setMessage("<Sample>"+escape(m.Name)+"</Sample>", true) +
		setMessage("<Solvent>"+escape(solvent)+"</Solvent>", false) +
		setMessage("<UserData><Data key='Comment' value='"+escape(m.Comment)+"'/></UserData>", false) +
		setMessage("<DataFolder><UserFolder>"+escape(folder)+"</UserFolder></DataFolder>", false) +
		startMessage(m.Protocol, m.Options)
}

// FormatFloat renders option values without trailing zeros.
func FormatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
