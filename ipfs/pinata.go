package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vellumd/vellum/internal/apperr"
)

const (
	pinataApi            = "https://api.pinata.cloud"
	pinataDefaultGateway = "https://gateway.pinata.cloud"
)

// PinataProvider pins payloads through the Pinata pinning API and reads
// them back through a gateway.
type PinataProvider struct {
	h       *retryablehttp.Client
	jwt     string
	gateway string
}

type PinataArgs struct {
	// Jwt is the Pinata API token.
	Jwt string
	// Gateway overrides the read gateway. Optional.
	Gateway string
}

func NewPinataProvider(args *PinataArgs) (*PinataProvider, error) {
	if args.Jwt == "" {
		return nil, fmt.Errorf("ipfs: pinata jwt must be set")
	}

	if args.Gateway == "" {
		args.Gateway = pinataDefaultGateway
	}

	h := retryablehttp.NewClient()
	h.Logger = nil

	return &PinataProvider{
		h:       h,
		jwt:     args.Jwt,
		gateway: args.Gateway,
	}, nil
}

func (p *PinataProvider) Name() string {
	return "pinata"
}

type pinataPinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p *PinataProvider) Add(ctx context.Context, data []byte, filename string, contentType string) (string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", pinataApi+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", mw.FormDataContentType())
	req.Header.Set("authorization", "Bearer "+p.jwt)

	resp, err := p.h.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", classifyStatus(resp.StatusCode, "pinFileToIPFS")
	}

	var parsed pinataPinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	return parsed.IpfsHash, nil
}

func (p *PinataProvider) Cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", p.gateway+"/ipfs/"+cid, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.h.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, classifyStatus(resp.StatusCode, "gateway fetch")
	}

	return io.ReadAll(resp.Body)
}

func (p *PinataProvider) Health(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", pinataApi+"/data/testAuthentication", nil)
	if err != nil {
		return err
	}
	req.Header.Set("authorization", "Bearer "+p.jwt)

	resp, err := p.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("pinata auth check returned %d", resp.StatusCode)
	}

	return nil
}
