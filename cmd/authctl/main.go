package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	Token     string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func (c *client) call(method, path string, payload any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	status, resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s %s fallo: status=%d body=%s", method, path, status, string(resp))
	}
	c.print(status, resp)
	return nil
}

func main() {
	var (
		baseURL = envOr("AUTHCORE_ADMIN_URL", "http://localhost:8080")
		apiKey  = envOr("AUTHCORE_ADMIN_KEY", "")
		token   = envOr("AUTHCORE_ADMIN_TOKEN", "")
		out     = envOr("AUTHCORE_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "authctl",
		Short: "CLI operativa para authcore (rutas /admin)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && token == "" {
				return fmt.Errorf("falta credencial (flag --api-key/--token o env AUTHCORE_ADMIN_KEY/AUTHCORE_ADMIN_TOKEN)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del servicio (env AUTHCORE_ADMIN_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "API key admin (env AUTHCORE_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&token, "token", token, "Access token Bearer (env AUTHCORE_ADMIN_TOKEN)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, APIKey: apiKey, Token: token, OutFormat: out, HTTP: &http.Client{Timeout: timeout}}

	// ping: GET /healthz no requiere credencial, pero valida conectividad
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping al servicio",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/healthz", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("ping fallo: status=%d body=%s", status, string(body))
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}

	root.AddCommand(pingCmd)
	root.AddCommand(clientsCmd(cl))
	root.AddCommand(keysCmd(cl))
	root.AddCommand(certsCmd(cl))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func clientsCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "clients", Short: "Operaciones sobre clientes OAuth"}

	var createName, createType string
	var createScopes, createGrants, createRedirects []string
	var createTokenTTL, createRefreshTTL int
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Registrar un cliente (el secret se muestra una sola vez)",
		RunE: func(c *cobra.Command, args []string) error {
			if createName == "" {
				return fmt.Errorf("--name es requerido")
			}
			payload := map[string]any{
				"name":          createName,
				"type":          createType,
				"scopes":        createScopes,
				"grant_types":   createGrants,
				"redirect_uris": createRedirects,
			}
			if createTokenTTL > 0 {
				payload["token_ttl_seconds"] = createTokenTTL
			}
			if createRefreshTTL > 0 {
				payload["refresh_ttl_seconds"] = createRefreshTTL
			}
			return cl.call("POST", "/admin/clients", payload)
		},
	}
	createCmd.Flags().StringVar(&createName, "name", "", "Nombre del cliente")
	createCmd.Flags().StringSliceVar(&createScopes, "scope", nil, "Scope permitido (repetible)")
	createCmd.Flags().StringSliceVar(&createGrants, "grant", nil, "Grant type permitido (repetible)")
	createCmd.Flags().StringSliceVar(&createRedirects, "redirect-uri", nil, "Redirect URI exacta (repetible)")
	createCmd.Flags().StringVar(&createType, "type", "confidential", "Tipo de cliente: confidential|public")
	createCmd.Flags().IntVar(&createTokenTTL, "token-ttl", 0, "TTL de access token en segundos")
	createCmd.Flags().IntVar(&createRefreshTTL, "refresh-ttl", 0, "TTL de refresh token en segundos")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar clientes registrados",
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("GET", "/admin/clients", nil)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <client_id>",
		Short: "Ver un cliente",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("GET", "/admin/clients/"+args[0], nil)
		},
	}

	rotateCmd := &cobra.Command{
		Use:   "rotate-secret <client_id>",
		Short: "Rotar el secret de un cliente confidencial",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/clients/"+args[0]+"/rotate-secret", nil)
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <client_id>",
		Short: "Desactivar un cliente y revocar sus refresh tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/clients/"+args[0]+"/deactivate", nil)
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, rotateCmd, deactivateCmd)
	return cmd
}

func keysCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Operaciones sobre API keys"}

	var createName, createClientID string
	var createScopes, createIPs []string
	var createRate int64
	var createExpires int
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Emitir una API key (el valor se muestra una sola vez)",
		RunE: func(c *cobra.Command, args []string) error {
			if createName == "" || createClientID == "" {
				return fmt.Errorf("--name y --client-id son requeridos")
			}
			payload := map[string]any{
				"name":                  createName,
				"client_id":             createClientID,
				"scopes":                createScopes,
				"allowed_ips":           createIPs,
				"rate_limit_per_minute": createRate,
			}
			if createExpires > 0 {
				payload["expires_in_days"] = createExpires
			}
			return cl.call("POST", "/admin/keys", payload)
		},
	}
	createCmd.Flags().StringVar(&createName, "name", "", "Nombre descriptivo de la key")
	createCmd.Flags().StringVar(&createClientID, "client-id", "", "Cliente dueño de la key")
	createCmd.Flags().StringSliceVar(&createScopes, "scope", nil, "Scope permitido (repetible)")
	createCmd.Flags().StringSliceVar(&createIPs, "allow-ip", nil, "IP permitida (repetible; vacío = sin restricción)")
	createCmd.Flags().Int64Var(&createRate, "rate", 60, "Límite de requests por minuto")
	createCmd.Flags().IntVar(&createExpires, "expires-days", 0, "Expiración en días (0 = sin expiración)")

	listCmd := &cobra.Command{
		Use:   "list <client_id>",
		Short: "Listar keys de un cliente",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("GET", "/admin/clients/"+args[0]+"/keys", nil)
		},
	}

	var revokeReason string
	revokeCmd := &cobra.Command{
		Use:   "revoke <key_id>",
		Short: "Revocar una key",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/keys/"+args[0]+"/revoke", map[string]any{"reason": revokeReason})
		},
	}
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "manual", "Motivo de la revocación")

	rotateCmd := &cobra.Command{
		Use:   "rotate <key_id>",
		Short: "Rotar una key (emite la nueva y revoca la anterior)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/keys/"+args[0]+"/rotate", nil)
		},
	}

	var scopedName string
	var scopedScopes []string
	var scopedTTL int
	scopedCmd := &cobra.Command{
		Use:   "scoped <parent_key_id>",
		Short: "Derivar una key efímera con scopes reducidos",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			payload := map[string]any{
				"name":        scopedName,
				"scopes":      scopedScopes,
				"ttl_minutes": scopedTTL,
			}
			return cl.call("POST", "/admin/keys/"+args[0]+"/scoped", payload)
		},
	}
	scopedCmd.Flags().StringVar(&scopedName, "name", "", "Nombre de la key derivada")
	scopedCmd.Flags().StringSliceVar(&scopedScopes, "scope", nil, "Scope (debe ser subconjunto del padre)")
	scopedCmd.Flags().IntVar(&scopedTTL, "ttl-minutes", 0, "Vida de la key derivada en minutos")

	revokeAllCmd := &cobra.Command{
		Use:   "revoke-all <client_id>",
		Short: "Revocar todas las keys activas de un cliente",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/clients/"+args[0]+"/keys/revoke-all", nil)
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd, rotateCmd, scopedCmd, revokeAllCmd)
	return cmd
}

func certsCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "certs", Short: "Operaciones sobre certificados mTLS"}

	var regClientID, regPEMFile string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Registrar un certificado de cliente (PEM)",
		RunE: func(c *cobra.Command, args []string) error {
			if regClientID == "" || regPEMFile == "" {
				return fmt.Errorf("--client-id y --pem son requeridos")
			}
			pem, err := os.ReadFile(regPEMFile)
			if err != nil {
				return err
			}
			payload := map[string]any{
				"client_id": regClientID,
				"cert_pem":  string(pem),
			}
			return cl.call("POST", "/admin/certs", payload)
		},
	}
	registerCmd.Flags().StringVar(&regClientID, "client-id", "", "Cliente dueño del certificado")
	registerCmd.Flags().StringVar(&regPEMFile, "pem", "", "Archivo PEM con el certificado")

	listCmd := &cobra.Command{
		Use:   "list <client_id>",
		Short: "Listar certificados de un cliente",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("GET", "/admin/clients/"+args[0]+"/certs", nil)
		},
	}

	var revokeReason string
	revokeCmd := &cobra.Command{
		Use:   "revoke <cert_id>",
		Short: "Revocar un certificado registrado",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cl.call("POST", "/admin/certs/"+args[0]+"/revoke", map[string]any{"reason": revokeReason})
		},
	}
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "manual", "Motivo de la revocación")

	var csrCN, csrOrg, csrCountry string
	csrCmd := &cobra.Command{
		Use:   "csr <client_id>",
		Short: "Generar CSR y clave privada para un cliente",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			payload := map[string]any{
				"common_name":  csrCN,
				"organization": csrOrg,
				"country":      csrCountry,
			}
			return cl.call("POST", "/admin/clients/"+args[0]+"/csr", payload)
		},
	}
	csrCmd.Flags().StringVar(&csrCN, "cn", "", "Common Name del sujeto")
	csrCmd.Flags().StringVar(&csrOrg, "org", "", "Organización")
	csrCmd.Flags().StringVar(&csrCountry, "country", "", "País (ISO 3166-1 alpha-2)")

	cmd.AddCommand(registerCmd, listCmd, revokeCmd, csrCmd)
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
