// Package protocol implements the RF Explorer serial wire protocol.
//
// The analyzer speaks an ASCII-framed protocol at 500000 baud. Host commands
// are framed as '#' + length byte + body. Device replies are CRLF-terminated
// text lines ("#C2-F:" current configuration, "#C2-M:" model identification)
// plus length-delimited binary sweep payloads ("$S"/"$s") whose amplitude
// bytes encode dBm as -b/2.
package protocol
