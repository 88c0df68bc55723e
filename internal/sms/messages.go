package sms

// Reply texts. Placeholders in help templates are {prefix} and {keyword};
// everything else is a fmt format string.
const (
	msgUnclear      = "The SMS is not clear. Please review format and send again."
	msgUnregistered = "You are not registered in the system. Please register using the command REG."
	msgRequired     = "This field is required."

	msgSiteUnknown   = "The site ID you entered does not exist - are you missing one or more zeros? Please try again."
	msgSiteMissing   = "Error in site ID - are you missing one or more zeros? Please enter or correct the site ID and resend."
	msgSiteInvalid   = "Error in site ID. Please enter or correct the site ID and resend."
	msgRegFormat     = "Your registration SMS contains errors. Format SMS as REG SITE-ID Name Lastname Position Email"
	msgPosition      = "The position you entered does not exist. Please check job aid and resend."
	msgRegLocation   = "You cannot register at that location"
	msgEmail         = "Enter a valid email address."
	msgCommand       = "Error in command. Please check job aid and resend."
	msgPeriod        = "Error in reporting period. Please check the format for report period and resend."
	msgStockCode     = "*Error in stock code* Please correct the stock codes entered in the SMS and resend."
	msgStockFormat   = "*Error in SMS format* Please check the job aid for the correct SMS format and resend."
	msgAnthropometry = "Error in anthropometry admission cell. Please correct the data entered in the SMS and resend."
	msgOTPAdmission  = "Error in anthropomety/oedema admission cell. Please correct the data entered in the SMS and resend."
	msgOedema        = "Error in oedema admissions cell. Please correct the data entered in the SMS and resend."
	msgRelapsed      = "Error in relapsed cell. Please correct the data entered in the SMS and resend."
	msgHIV           = "Error in HIV+ admissions cell. Please correct the data entered in the SMS and resend."
	msgReadmissions  = "Error in readmissions cell. Please correct the data entered into the SMS and resend."
	msgTransferIn    = "Error in transfer in cell. Please correct the data entered in the SMS and resend."
	msgTransferOut   = "Error in transfer out cell. Please correct the data entered in the SMS and resend."
	msgDeaths        = "Error in deaths cell. Please correct the data entered in the SMS and resend."
	msgDefaults      = "Error in defaults cell. Please correct the data entered in the SMS and resend."
	msgNoResponse    = "Error in no response cell. Please correct the data entered in the SMS and resend."
	msgCures         = "Error in cures cell. Please correct the data entered in the SMS and resend."

	fmtRegistered    = "Thank you %s, %s, you are registered at %s with the site ID %s in %s"
	fmtAlreadyReg    = "%s has already registered"
	fmtNoReports     = "There are no reports for %s"
	fmtAdmissions    = "For %s there were %d new admissions, %d cures, %d deaths, %d defaults, %d no response, %d transfers and %d under Rx at %s."
	fmtProgramReport = "Thank you %s. For %s there were %d new admissions, %d cures, %d deaths, %d defaults, %d no response and %d transfers from %s."
	fmtGroupDenied   = "Report not allowed for %s"
	fmtStockStatus   = "The site %s reported %s on date %s"
	fmtStockThanks   = "Thank you %s for sending the stock report for %s"
	fmtStockOut      = "Thank you. Stock outs of %s were reported in %s in %s on date %s."
	fmtSiteID        = "Hello %s, you are registered at %s with site ID %s"
)

// Help templates.
const (
	helpBare       = "Please send {prefix} *COMMAND* to get help on *COMMAND*"
	helpHelp       = "Send {prefix} {keyword} *COMMAND* or *COMMAND* to get help on COMMAND"
	helpReg        = "Send {prefix} {keyword} SITE-ID Name Lastname Position Email (optional) to register"
	helpAdm        = "Send {prefix} {keyword} SITE-ID REPORT-TYPE GROUP-CODE PERIOD"
	helpProgram    = "Please consult the job aid for message format"
	helpStock      = "Send {prefix} {keyword} StockCode LastQuantityReceived CurrentTotalStock ... StockCode LastQuantityReceived CurrentTotalStock"
	helpStockOut   = "To report a stock out, send OUT StockCode"
	helpSiteID     = "Send {prefix} {keyword} to see the site you are registered at"
	stockStatusFmt = "15:04:05 02-01-2006"
	stockOutFmt    = "02/01/06"
)
