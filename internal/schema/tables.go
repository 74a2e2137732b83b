package schema

// standardTables are the HL7 and user-defined tables shipped with the standard profiles.
// Tables referenced by a definition but absent here are not checked.
var standardTables = map[string]Table{
	"0001": {
		"F": "Female",
		"M": "Male",
		"O": "Other",
		"U": "Unknown",
		"A": "Ambiguous",
		"N": "Not applicable",
	},
	"0002": {
		"A": "Separated",
		"D": "Divorced",
		"M": "Married",
		"S": "Single",
		"W": "Widowed",
		"C": "Common law",
		"G": "Living together",
		"P": "Domestic partner",
		"R": "Registered domestic partner",
		"E": "Legally separated",
		"N": "Annulled",
		"I": "Interlocutory",
		"B": "Unmarried",
		"U": "Unknown",
		"O": "Other",
		"T": "Unreported",
	},
	"0003": {
		"A01": "ADT/ACK - Admit/visit notification",
		"A02": "ADT/ACK - Transfer a patient",
		"A03": "ADT/ACK - Discharge/end visit",
		"A04": "ADT/ACK - Register a patient",
		"A05": "ADT/ACK - Pre-admit a patient",
		"A06": "ADT/ACK - Change an outpatient to an inpatient",
		"A07": "ADT/ACK - Change an inpatient to an outpatient",
		"A08": "ADT/ACK - Update patient information",
		"A11": "ADT/ACK - Cancel admit/visit notification",
		"A13": "ADT/ACK - Cancel discharge/end visit",
		"A28": "ADT/ACK - Add person information",
		"A31": "ADT/ACK - Update person information",
		"A34": "ADT/ACK - Merge patient information - patient ID only",
		"A40": "ADT/ACK - Merge patient - patient identifier list",
		"O01": "ORM - Order message",
		"O21": "OML - Laboratory order",
		"R01": "ORU/ACK - Unsolicited transmission of an observation message",
		"R03": "Display-oriented results, query/unsol. update",
		"Q01": "QRY/DSR - Query sent for immediate response",
		"S12": "SRM/SRR - Request new appointment booking",
		"T02": "MDM/ACK - Original document notification and content",
		"V04": "VXU - Unsolicited vaccination record update",
	},
	"0004": {
		"E": "Emergency",
		"I": "Inpatient",
		"O": "Outpatient",
		"P": "Preadmit",
		"R": "Recurring patient",
		"B": "Obstetrics",
		"C": "Commercial account",
		"N": "Not applicable",
		"U": "Unknown",
	},
	"0007": {
		"A": "Accident",
		"E": "Emergency",
		"L": "Labor and delivery",
		"R": "Routine",
		"N": "Newborn",
		"U": "Urgent",
		"C": "Elective",
	},
	"0008": {
		"AA": "Original mode: Application Accept",
		"AE": "Original mode: Application Error",
		"AR": "Original mode: Application Reject",
		"CA": "Enhanced mode: Accept acknowledgment: Commit Accept",
		"CE": "Enhanced mode: Accept acknowledgment: Commit Error",
		"CR": "Enhanced mode: Accept acknowledgment: Commit Reject",
	},
	"0076": {
		"ACK": "General acknowledgment message",
		"ADT": "ADT message",
		"BAR": "Add/change billing account",
		"DFT": "Detailed financial transaction",
		"MDM": "Medical document management",
		"MFN": "Master files notification",
		"OML": "Laboratory order message",
		"ORM": "Pharmacy/treatment order message",
		"ORR": "General order response message",
		"ORU": "Unsolicited transmission of an observation message",
		"QRY": "Query, original mode",
		"RDE": "Pharmacy/treatment encoded order message",
		"SIU": "Schedule information unsolicited",
		"VXU": "Unsolicited vaccination record update",
	},
	"0078": {
		"L":  "Below low normal",
		"H":  "Above high normal",
		"LL": "Below lower panic limits",
		"HH": "Above upper panic limits",
		"N":  "Normal",
		"A":  "Abnormal",
		"AA": "Very abnormal",
		"<":  "Below absolute low-off instrument scale",
		">":  "Above absolute high-off instrument scale",
		"U":  "Significant change up",
		"D":  "Significant change down",
		"B":  "Better",
		"W":  "Worse",
		"S":  "Susceptible",
		"R":  "Resistant",
		"I":  "Intermediate",
	},
	"0080": {
		"A": "An age-based population",
		"N": "None - generic normal range",
		"R": "A race-based population",
		"S": "A sex-based population",
	},
	"0085": {
		"C": "Record coming over is a correction and thus replaces a final result",
		"D": "Deletes the OBX record",
		"F": "Final results",
		"I": "Specimen in lab; results pending",
		"N": "Not asked",
		"O": "Order detail description only",
		"P": "Preliminary results",
		"R": "Results entered -- not verified",
		"S": "Partial results",
		"U": "Results status change to final without retransmitting results",
		"W": "Post original as wrong",
		"X": "Results cannot be obtained for this observation",
	},
	"0103": {
		"D": "Debugging",
		"P": "Production",
		"T": "Training",
	},
	"0104": {
		"2.1":   "Release 2.1",
		"2.2":   "Release 2.2",
		"2.3":   "Release 2.3",
		"2.3.1": "Release 2.3.1",
		"2.4":   "Release 2.4",
		"2.5":   "Release 2.5",
		"2.5.1": "Release 2.5.1",
		"2.6":   "Release 2.6",
		"2.7":   "Release 2.7",
		"2.7.1": "Release 2.7.1",
		"2.8":   "Release 2.8",
		"2.8.1": "Release 2.8.1",
		"2.8.2": "Release 2.8.2",
		"2.9":   "Release 2.9",
	},
	"0125": {
		"AD":  "Address",
		"CE":  "Coded entry",
		"CF":  "Coded element with formatted values",
		"CK":  "Composite ID with check digit",
		"CN":  "Composite ID and name",
		"CNE": "Coded with no exceptions",
		"CWE": "Coded with exceptions",
		"CX":  "Extended composite ID with check digit",
		"DT":  "Date",
		"DTM": "Date/time",
		"ED":  "Encapsulated data",
		"FT":  "Formatted text",
		"ID":  "Coded value for HL7 defined tables",
		"IS":  "Coded value for user defined tables",
		"MO":  "Money",
		"NM":  "Numeric",
		"PN":  "Person name",
		"RP":  "Reference pointer",
		"SN":  "Structured numeric",
		"ST":  "String data",
		"TM":  "Time",
		"TN":  "Telephone number",
		"TS":  "Time stamp",
		"TX":  "Text data",
		"XAD": "Extended address",
		"XCN": "Extended composite name/number for persons",
		"XON": "Extended composite name/number for organizations",
		"XPN": "Extended person name",
		"XTN": "Extended telecommunications number",
	},
	"0136": {
		"Y": "Yes",
		"N": "No",
	},
	"0155": {
		"AL": "Always",
		"NE": "Never",
		"ER": "Error/reject conditions only",
		"SU": "Successful completion only",
	},
	"0203": {
		"AN": "Account number",
		"BN": "Birth registry number",
		"DL": "Driver's license number",
		"EI": "Employee number",
		"MR": "Medical record number",
		"NI": "National unique individual identifier",
		"PI": "Patient internal identifier",
		"PN": "Person number",
		"PT": "Patient external identifier",
		"SS": "Social Security number",
		"VN": "Visit number",
	},
	"0211": {
		"ASCII":          "The printable 7-bit ASCII character set",
		"8859/1":         "The printable characters from the ISO 8859/1 Character set",
		"8859/2":         "The printable characters from the ISO 8859/2 Character set",
		"8859/5":         "The printable characters from the ISO 8859/5 Character set",
		"8859/7":         "The printable characters from the ISO 8859/7 Character set",
		"8859/15":        "The printable characters from the ISO 8859/15 Character set",
		"UNICODE":        "The world wide character standard from ISO/IEC 10646-1-1993",
		"UNICODE UTF-8":  "UCS Transformation Format, 8-bit form",
		"UNICODE UTF-16": "UCS Transformation Format, 16-bit form",
	},
}
