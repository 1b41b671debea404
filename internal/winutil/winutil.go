// Package winutil holds Windows desktop helpers for the tray app: a
// single-instance guard and toast notifications. Other platforms get no-ops.
package winutil

import "strings"

// DefaultAppID names the mutex and the toast sender.
const DefaultAppID = "AICLICompanion"

func mutexName(name string) string {
	if strings.TrimSpace(name) == "" {
		name = DefaultAppID
	}
	return `Local\` + name + "_SingleInstance"
}

// psQuote escapes s for a single-quoted PowerShell string.
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// xmlEscape escapes s for toast XML text nodes.
func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// toastScript builds the PowerShell that shows a toast.
func toastScript(appID, title, message string) string {
	if appID == "" {
		appID = DefaultAppID
	}
	title = psQuote(xmlEscape(title))
	message = psQuote(xmlEscape(message))
	return `
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml('<toast><visual><binding template="ToastGeneric"><text>` + title + `</text><text>` + message + `</text></binding></visual></toast>')
$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('` + psQuote(appID) + `').Show($toast)
`
}
