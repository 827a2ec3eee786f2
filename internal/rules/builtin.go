package rules

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/caseinv/internal/enrich"
)

// Row cell selectors of the alert table.
const (
	timestampCell = ".MuiTableCell-root:nth-child(3) span"
	deviceCell    = ".MuiTableCell-root:nth-child(5) a div div"
	accountCell   = ".MuiTableCell-root:nth-child(7) span"
	sourceIPCell  = ".MuiTableCell-root:nth-child(9) span"
)

// Status values understood by the narrative form.
const (
	StatusClosed        = "Closed"
	StatusInvestigating = "Investigating"
)

// Evidence-link templates (Kibana discover views).
const (
	merakiLowLogLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(event.action,event.ingested),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:client_id,negate:!f,params:(query:<id>),type:phrase),query:(match_phrase:(client_id:<id>))),('$state':(store:appState),meta:(alias:!n,disabled:!f,field:event.module,index:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',key:event.module,negate:!f,params:(query:cisco_meraki),type:phrase),query:(match_phrase:(event.module:cisco_meraki)))),hideChart:!f,interval:auto,query:(language:kuery,query:''),sort:!(!('@timestamp',desc)))`

	o365LowLogLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(event.action,event.ingested),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:client_id,negate:!f,params:(query:<id>),type:phrase),query:(match_phrase:(client_id:<id>))),('$state':(store:appState),meta:(alias:!n,disabled:!f,field:event.module,index:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',key:event.module,negate:!f,params:(query:o365),type:phrase),query:(match_phrase:(event.module:o365)))),hideChart:!f,interval:auto,query:(language:kuery,query:''),sort:!(!('@timestamp',desc)))`

	gsuiteForeignLoginLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(event.action,source.ip,source.geo.country_name,source.geo.continent_name,source.as.organization.name,source.geo.region_name),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:client_id,negate:!f,params:(query:'<id>'),type:phrase),query:(match_phrase:(client_id:'<id>'))),('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:event.module,negate:!f,params:(query:google_workspace),type:phrase),query:(match_phrase:(event.module:google_workspace))),('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:user.email,negate:!f,params:(query:'<email>'),type:phrase),query:(match_phrase:(user.email:'<email>')))),hideChart:!f,interval:auto,query:(language:kuery,query:''),sort:!(!('@timestamp',desc)))`

	gsuiteRareLoginLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(source.ip,source.geo.region_name,source.as.organization.name),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:event.module,negate:!f,params:(query:google_workspace),type:phrase),query:(match_phrase:(event.module:google_workspace))),('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:event.action,negate:!f,params:(query:login_success),type:phrase),query:(match_phrase:(event.action:login_success)))),hideChart:!f,interval:auto,query:(language:kuery,query:'client_id:<id>%20and%20user.email:<email>'),sort:!(!('@timestamp',desc)))`

	agentByNameLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(event.action,host.name,event.ingested),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:client_id,negate:!f,params:(query:<id>),type:phrase),query:(match_phrase:(client_id:<id>))),('$state':(store:appState),meta:(alias:!n,disabled:!f,field:host.name,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:host.name,negate:!f,params:(query:<device>),type:phrase),query:(match_phrase:(host.name:<device>)))),hideChart:!f,interval:auto,query:(language:kuery,query:''),sort:!(!('@timestamp',desc)))`

	agentByAddressLink = `https://siem.agileblue.com/app/discover#/?_g=(filters:!(),refreshInterval:(pause:!t,value:60000),time:(from:now-7d%2Fd,to:now))&_a=(columns:!(event.action,source.ip,event.ingested),dataSource:(dataViewId:'18e3ccea-a179-47a6-b8b4-d1845f9706a1',type:dataView),filters:!(('$state':(store:appState),meta:(alias:!n,disabled:!f,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:client_id,negate:!f,params:(query:<id>),type:phrase),query:(match_phrase:(client_id:<id>))),('$state':(store:appState),meta:(alias:!n,disabled:!f,field:source.ip,index:'9079f5b2-b472-46f0-ba7e-fe1f7fddf607',key:source.ip,negate:!f,params:(query:<device>),type:phrase),query:(match_phrase:(source.ip:<device>)))),hideChart:!f,interval:auto,query:(language:kuery,query:''),sort:!(!('@timestamp',desc)))`
)

var (
	clientIDField = FieldDescriptor{Placeholder: PlaceholderClientID, Selector: `input[name="ClientId"]`, Scope: ScopePage, Mode: ModeValue}
	accountField  = FieldDescriptor{Placeholder: "<email>", Selector: accountCell, Scope: ScopeRow, Mode: ModeText}
	deviceField   = FieldDescriptor{Placeholder: PlaceholderDevice, Selector: deviceCell, Scope: ScopeRow, Mode: ModeText}
)

// clients whose server naming convention makes agent silence expected
var agentSilenceAgreed = []string{
	"581", "582", "583", "584", "585", "586", "587", "588", "589", "590", "591", "592", "593",
	"595", "596", "597",
	"602", "603", "604", "605", "606", "607", "608", "609", "610", "611", "612", "613", "614", "615", "616", "617", "618",
}

// Builtin returns the supported alert definitions.
func Builtin() []Definition {
	return []Definition{
		lowLogCount("Cisco Meraki - Unusually Low Log Count", merakiLowLogLink),
		lowLogCount("Office365 - Unusually Low Log Count", o365LowLogLink),
		{
			Label:  "GSuite - Unapproved Foreign Country Login",
			Links:  LinkTemplates{Generic: gsuiteForeignLoginLink},
			Fields: []FieldDescriptor{clientIDField, accountField},
			Resolutions: map[Action][]Resolution{
				ActionEscalate: {{
					Clients:   Default(),
					Narrative: DerivedAsync(loginConfirmation("GSuite - Unapproved Foreign Country Login")),
					Notify:    true,
				}},
				ActionCloseBenign: {{
					Clients: Default(),
					Narrative: Derived(func(ctx context.Context, env Env) string {
						return fmt.Sprintf("Closing as benign, IP %s is clean and client previously confirmed this location for the user.",
							env.Row.Cell(ctx, sourceIPCell))
					}),
					Status: StatusClosed,
				}},
			},
		},
		{
			Label:  "GSuite - Rare Login",
			Links:  LinkTemplates{Generic: gsuiteRareLoginLink},
			Fields: []FieldDescriptor{clientIDField, accountField},
			Resolutions: map[Action][]Resolution{
				ActionEscalate: {{
					Clients:   Default(),
					Narrative: DerivedAsync(loginConfirmation("GSuite - Rare Login")),
					Autosave:  true,
					Notify:    true,
				}},
				ActionCloseBenign: {{
					Clients: Default(),
					Narrative: Derived(func(ctx context.Context, env Env) string {
						return fmt.Sprintf("Closing as benign, confirmed that this is not suspicious activity and that the IP %s has a clean reputation.\n"+
							"Login location is consistent with user's historical activity and is located near the client.",
							env.Row.Cell(ctx, sourceIPCell))
					}),
					Autosave: true,
					Status:   StatusClosed,
				}},
			},
		},
		{
			Label:  "Server Agent Unresponsive",
			Links:  LinkTemplates{ByAddress: agentByAddressLink, ByName: agentByNameLink},
			Fields: []FieldDescriptor{clientIDField, deviceField},
			Resolutions: map[Action][]Resolution{
				ActionEscalate: {{
					Clients:   Default(),
					Narrative: Literal("Escalated to audit cases team for further investigation of server agent unresponsiveness."),
				}},
				ActionCloseBenign: {
					{
						Clients: Clients(agentSilenceAgreed...),
						Narrative: Derived(func(ctx context.Context, env Env) string {
							device := env.Row.Cell(ctx, deviceCell)
							if device == "" {
								device = "Unknown"
							}
							return fmt.Sprintf("Closing as benign per client agreement. Device %s matches known \"pos\" or \"server\" naming convention and can be ignored for this alert.", device)
						}),
						Autosave: true,
						Status:   StatusClosed,
					},
					{
						Clients:   Default(),
						Narrative: Literal("Closing as false-positive, confirmed that logs are still being ingested in Elastic for the server.\nLast Log Time: \nLast Log Ingested: "),
						Status:    StatusClosed,
					},
				},
			},
		},
	}
}

// AssignResolution is applied by the assign action.
var AssignResolution = Resolution{
	Clients:   Default(),
	Narrative: Literal("Assigned and beginning investigation."),
	Autosave:  true,
	Status:    StatusInvestigating,
}

func lowLogCount(label, link string) Definition {
	return Definition{
		Label:  label,
		Links:  LinkTemplates{Generic: link},
		Fields: []FieldDescriptor{clientIDField},
		Resolutions: map[Action][]Resolution{
			ActionEscalate: {{
				Clients:   Default(),
				Narrative: Literal("Escalated to audit cases team"),
			}},
			ActionCloseBenign: {{
				Clients:   Default(),
				Narrative: Literal("Closing as false-positive, confirmed that logs are still being ingested in Elastic.\nLast Log Time: \nLast Log Ingested: "),
				Status:    StatusClosed,
			}},
		},
	}
}

// loginConfirmation asks the client to confirm a login, with the source
// address enriched. An empty address skips the lookup.
func loginConfirmation(title string) DeriveFunc {
	return func(ctx context.Context, env Env) string {
		ts := env.Row.Cell(ctx, timestampCell)
		account := env.Row.Cell(ctx, accountCell)
		ip := env.Row.Cell(ctx, sourceIPCell)

		info := enrich.Unknown
		if ip != "" {
			info = env.Enrich.Lookup(ctx, ip)
		}
		return fmt.Sprintf("%s\n\nTimestamp: %s EST\nAccount: %s\nSource IP: %s\nLocation: %s\nISP: %s\n\nPlease confirm this action",
			title, ts, account, ip, info.Location, info.NetworkOwner)
	}
}
