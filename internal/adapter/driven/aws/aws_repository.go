package aws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// Operações suportadas, referenciadas pelo campo path dos datatypes.
const (
	OperationGetCostAndUsage = "GetCostAndUsage"
	OperationDescribeBudgets = "DescribeBudgets"
)

// Cost Explorer e Budgets só respondem em us-east-1.
const billingRegion = "us-east-1"

// CostExplorerAPI é o subconjunto do cliente Cost Explorer usado aqui.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
	GetDimensionValues(ctx context.Context, params *costexplorer.GetDimensionValuesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetDimensionValuesOutput, error)
}

// BudgetsAPI é o subconjunto do cliente Budgets usado aqui.
type BudgetsAPI interface {
	DescribeBudgets(ctx context.Context, params *budgets.DescribeBudgetsInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetsOutput, error)
}

// STSAPI é o subconjunto do cliente STS usado aqui.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients agrupa os clientes de um perfil.
type Clients struct {
	CostExplorer CostExplorerAPI
	Budgets      BudgetsAPI
	STS          STSAPI
}

// ClientFactory cria os clientes de um perfil AWS.
type ClientFactory func(ctx context.Context, profile string) (Clients, error)

// AWSRepositoryImpl implementa o PageSource sobre Cost Explorer e Budgets,
// com cache de configuração e de clientes por perfil.
type AWSRepositoryImpl struct {
	cfgCache    map[string]aws.Config
	clientCache map[string]Clients
	factory     ClientFactory
	now         func() time.Time
	mu          sync.Mutex
}

// NewAWSRepository cria uma nova implementação do PageSource para AWS.
// A credencial de cada requisição é o nome do perfil compartilhado.
func NewAWSRepository() repository.PageSource {
	r := &AWSRepositoryImpl{
		cfgCache:    make(map[string]aws.Config),
		clientCache: make(map[string]Clients),
		now:         time.Now,
	}
	r.factory = r.newClients
	return r
}

// NewAWSRepositoryWithFactory cria o repositório com clientes fornecidos
// pelo chamador.
func NewAWSRepositoryWithFactory(factory ClientFactory, now func() time.Time) *AWSRepositoryImpl {
	return &AWSRepositoryImpl{
		cfgCache:    make(map[string]aws.Config),
		clientCache: make(map[string]Clients),
		factory:     factory,
		now:         now,
	}
}

func (r *AWSRepositoryImpl) getAWSConfig(ctx context.Context, profile string) (aws.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.cfgCache[profile]; ok {
		return cfg, nil
	}

	// Retries belong to the fetcher's policy, so the SDK sends each call once.
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRegion(billingRegion),
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config for profile %s: %w", profile, err)
	}

	r.cfgCache[profile] = cfg
	return cfg, nil
}

func (r *AWSRepositoryImpl) newClients(ctx context.Context, profile string) (Clients, error) {
	cfg, err := r.getAWSConfig(ctx, profile)
	if err != nil {
		return Clients{}, err
	}
	return Clients{
		CostExplorer: costexplorer.NewFromConfig(cfg),
		Budgets:      budgets.NewFromConfig(cfg),
		STS:          sts.NewFromConfig(cfg),
	}, nil
}

func (r *AWSRepositoryImpl) getClients(ctx context.Context, cred entity.Credential) (Clients, error) {
	profile := cred.Token
	r.mu.Lock()
	if clients, ok := r.clientCache[profile]; ok {
		r.mu.Unlock()
		return clients, nil
	}
	r.mu.Unlock()

	clients, err := r.factory(ctx, profile)
	if err != nil {
		return Clients{}, err
	}

	r.mu.Lock()
	r.clientCache[profile] = clients
	r.mu.Unlock()
	return clients, nil
}

// ListAccounts lista as contas vinculadas vistas pelo Cost Explorer nos
// últimos doze meses. Fora de uma organização, retorna a conta do chamador.
func (r *AWSRepositoryImpl) ListAccounts(ctx context.Context, provider entity.Provider, cred entity.Credential) ([]entity.Account, error) {
	clients, err := r.getClients(ctx, cred)
	if err != nil {
		return nil, err
	}

	today := r.now().UTC()
	input := &costexplorer.GetDimensionValuesInput{
		Dimension: ceTypes.DimensionLinkedAccount,
		Context:   ceTypes.ContextCostAndUsage,
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(today.AddDate(-1, 0, 0).Format("2006-01-02")),
			End:   aws.String(today.AddDate(0, 0, 1).Format("2006-01-02")),
		},
	}

	var accounts []entity.Account
	for {
		out, err := clients.CostExplorer.GetDimensionValues(ctx, input)
		if err != nil {
			return nil, classifyError("costexplorer:GetDimensionValues", err)
		}
		for _, v := range out.DimensionValues {
			accounts = append(accounts, entity.Account{
				ID:   aws.ToString(v.Value),
				Name: v.Attributes["description"],
			})
		}
		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	if len(accounts) > 0 {
		return accounts, nil
	}

	identity, err := clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, classifyError("sts:GetCallerIdentity", err)
	}
	return []entity.Account{{ID: aws.ToString(identity.Account)}}, nil
}

// FetchPage executa uma chamada da operação nomeada pelo datatype.
func (r *AWSRepositoryImpl) FetchPage(ctx context.Context, provider entity.Provider, cred entity.Credential, unit entity.FetchUnit, cursor string) (entity.Page, error) {
	clients, err := r.getClients(ctx, cred)
	if err != nil {
		return entity.Page{}, err
	}

	switch unit.Datatype.Path {
	case OperationGetCostAndUsage:
		return r.getCostAndUsage(ctx, clients.CostExplorer, unit, cursor)
	case OperationDescribeBudgets:
		return r.describeBudgets(ctx, clients.Budgets, unit, cursor)
	default:
		return entity.Page{}, fmt.Errorf("unsupported AWS operation %q for datatype %s", unit.Datatype.Path, unit.Datatype.Name)
	}
}

func (r *AWSRepositoryImpl) getCostAndUsage(ctx context.Context, client CostExplorerAPI, unit entity.FetchUnit, cursor string) (entity.Page, error) {
	endpoint := "costexplorer:" + OperationGetCostAndUsage
	q := unit.Datatype.Query

	filter, err := buildFilter(unit.Account, splitList(q["tags"]))
	if err != nil {
		return entity.Page{}, err
	}

	metrics := splitList(q["metrics"])
	if len(metrics) == 0 {
		metrics = []string{"UnblendedCost"}
	}
	dimensions := splitList(q["group_by"])

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(unit.Period.Start.Format("2006-01-02")),
			End:   aws.String(unit.Period.End.Format("2006-01-02")),
		},
		Granularity: ceTypes.Granularity(strings.ToUpper(lo.Ternary(q["granularity"] != "", q["granularity"], "MONTHLY"))),
		Metrics:     metrics,
		GroupBy: lo.Map(dimensions, func(d string, _ int) ceTypes.GroupDefinition {
			return ceTypes.GroupDefinition{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String(d)}
		}),
		Filter: filter,
	}
	if cursor != "" {
		input.NextPageToken = aws.String(cursor)
	}

	out, err := client.GetCostAndUsage(ctx, input)
	if err != nil {
		return entity.Page{}, classifyError(endpoint, err)
	}

	rows, err := costRows(out.ResultsByTime, dimensions, metrics)
	if err != nil {
		return entity.Page{}, err
	}
	return entity.Page{Rows: rows, Cursor: aws.ToString(out.NextPageToken), Endpoint: endpoint}, nil
}

func (r *AWSRepositoryImpl) describeBudgets(ctx context.Context, client BudgetsAPI, unit entity.FetchUnit, cursor string) (entity.Page, error) {
	endpoint := "budgets:" + OperationDescribeBudgets
	input := &budgets.DescribeBudgetsInput{AccountId: aws.String(unit.Account)}
	if cursor != "" {
		input.NextToken = aws.String(cursor)
	}

	out, err := client.DescribeBudgets(ctx, input)
	if err != nil {
		return entity.Page{}, classifyError(endpoint, err)
	}

	rows, err := budgetRows(out.Budgets)
	if err != nil {
		return entity.Page{}, err
	}
	return entity.Page{Rows: rows, Cursor: aws.ToString(out.NextToken), Endpoint: endpoint}, nil
}

// buildFilter restringe a consulta à conta vinculada e às tags informadas.
func buildFilter(account string, tags []string) (*ceTypes.Expression, error) {
	tagFilter, err := parseTagFilter(tags)
	if err != nil {
		return nil, err
	}
	if account == "" {
		return tagFilter, nil
	}

	accountFilter := ceTypes.Expression{
		Dimensions: &ceTypes.DimensionValues{
			Key:    ceTypes.DimensionLinkedAccount,
			Values: []string{account},
		},
	}
	if tagFilter == nil {
		return &accountFilter, nil
	}
	return &ceTypes.Expression{And: []ceTypes.Expression{accountFilter, *tagFilter}}, nil
}

func parseTagFilter(tags []string) (*ceTypes.Expression, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	var expressions []ceTypes.Expression
	for _, t := range tags {
		parts := strings.SplitN(t, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag format: %s", t)
		}
		expressions = append(expressions, ceTypes.Expression{
			Tags: &ceTypes.TagValues{
				Key:    aws.String(parts[0]),
				Values: []string{parts[1]},
			},
		})
	}

	if len(expressions) == 1 {
		return &expressions[0], nil
	}

	return &ceTypes.Expression{And: expressions}, nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}

var retryableErrorCodes = map[string]bool{
	"ThrottlingException":      true,
	"Throttling":               true,
	"TooManyRequestsException": true,
	"LimitExceededException":   true,
	"RequestLimitExceeded":     true,
	"ServiceUnavailable":       true,
	"InternalErrorException":   true,
	"InternalFailure":          true,
	"RequestTimeout":           true,
}

// classifyError marks throttling, server faults and network failures as
// transient; everything else (access denied, validation) is returned as is.
func classifyError(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if retryableErrorCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return &types.TransientError{Endpoint: endpoint, Reason: apiErr.ErrorCode(), Err: err}
		}
		return fmt.Errorf("%s: %w", endpoint, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &types.TransientError{Endpoint: endpoint, Reason: "network failure", Err: err}
	}
	return fmt.Errorf("%s: %w", endpoint, err)
}
